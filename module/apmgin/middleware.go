// Package apmgin instruments gin engines.
package apmgin

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/module/apmhttp"
)

// Middleware returns gin middleware recording each request as a transaction
// named after its route pattern, such as "GET /users/:id". Errors attached
// to the gin context are captured on the transaction.
func Middleware(tracer *apm.Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !tracer.Recording() || apmhttp.IgnoreURL(tracer.Config().Tracing.TransactionIgnoreURLs, c.Request.URL.Path) {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unknown route"
		}
		tx, ctx := apmhttp.StartTransaction(tracer, c.Request.Method+" "+route, c.Request)
		defer tx.End()
		c.Request = c.Request.WithContext(ctx)

		defer func() {
			if v := recover(); v != nil {
				tx.CaptureException(fmt.Errorf("panic: %v", v))
				apmhttp.FinishTransaction(tx, 500)
				panic(v)
			}
		}()

		c.Next()

		for _, err := range c.Errors {
			tx.CaptureException(err.Err)
		}
		apmhttp.FinishTransaction(tx, c.Writer.Status())
	}
}
