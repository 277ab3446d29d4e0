package apm

import (
	"runtime"
	"strings"

	"github.com/GriffinCanCode/apmagent/model"
)

const apmPackagePrefix = "github.com/GriffinCanCode/apmagent/apm."

// captureStacktrace returns up to limit frames of the caller's stack,
// skipping frames inside this package. A negative limit is unlimited and
// zero captures nothing.
func captureStacktrace(skip, limit int) []model.StackFrame {
	if limit == 0 {
		return nil
	}
	depth := limit + 16
	if limit < 0 {
		depth = 256
	}
	pcs := make([]uintptr, depth)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	var out []model.StackFrame
	for {
		fr, more := frames.Next()
		if !strings.HasPrefix(fr.Function, apmPackagePrefix) {
			module, function := splitFunction(fr.Function)
			out = append(out, model.StackFrame{
				Function: function,
				Module:   module,
				File:     fr.File,
				Line:     fr.Line,
			})
			if limit > 0 && len(out) == limit {
				break
			}
		}
		if !more {
			break
		}
	}
	return out
}

// splitFunction splits "path/to/pkg.(*T).Method" into the package path and
// the function name.
func splitFunction(qualified string) (module, function string) {
	slash := strings.LastIndexByte(qualified, '/')
	dot := strings.IndexByte(qualified[slash+1:], '.')
	if dot < 0 {
		return "", qualified
	}
	dot += slash + 1
	return qualified[:dot], qualified[dot+1:]
}

// culprit names the function an error originated in.
func culprit(frames []model.StackFrame) string {
	if len(frames) == 0 {
		return ""
	}
	if frames[0].Module == "" {
		return frames[0].Function
	}
	return frames[0].Module + "." + frames[0].Function
}
