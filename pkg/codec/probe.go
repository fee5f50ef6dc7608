package codec

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// FactoryProbe answers Supports by creating a decoder and releasing it
// straight away.
type FactoryProbe struct {
	Factory Factory
}

// Supports reports true when the factory can create a decoder for mime.
func (p FactoryProbe) Supports(mime string) (bool, error) {
	dec, err := p.Factory.CreateDecoderByType(mime)
	if errors.Is(err, ErrUnsupportedCodec) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := dec.Release(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "FactoryProbe.Supports",
			"mime":     mime,
			"error":    err.Error(),
		}).Warn("Probe: failed to release decoder")
	}
	return true, nil
}
