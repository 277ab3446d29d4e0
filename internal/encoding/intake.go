package encoding

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/apmagent/model"
)

type intakeCodec struct{}

func (intakeCodec) path() string        { return IntakePath }
func (intakeCodec) contentType() string { return IntakeContentType }

func (intakeCodec) encode(buf *bytes.Buffer, md *model.Metadata, events []model.Event) (int, error) {
	if err := writeLine(buf, metadataLine{Metadata: toWireMetadata(md)}); err != nil {
		return 0, fmt.Errorf("encode metadata: %w", err)
	}

	n := 0
	for _, ev := range events {
		var line interface{}
		switch ev.Kind {
		case model.KindTransaction:
			line = transactionLine{Transaction: toWireTransaction(ev.Transaction)}
		case model.KindSpan:
			line = spanLine{Span: toWireSpan(ev.Span)}
		case model.KindError:
			line = errorLine{Error: toWireError(ev.Error)}
		case model.KindMetricSet:
			line = metricsetLine{Metricset: toWireMetricset(ev.MetricSet)}
		default:
			continue
		}
		if err := writeLine(buf, line); err != nil {
			return 0, fmt.Errorf("encode %s: %w", ev.Kind, err)
		}
		n++
	}
	return n, nil
}

func writeLine(buf *bytes.Buffer, v interface{}) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte('\n')
	return nil
}
