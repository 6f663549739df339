package dio

import (
	"fmt"

	"github.com/untoldecay/trustchain/internal/chain"
	"github.com/untoldecay/trustchain/internal/event"
)

// applyUnderlay runs the outbound transform stack on data: transformers
// closest to the payload first, then plugins wrapping them.
func applyUnderlay(meta *event.Metadata, data []byte, session *chain.Session, txMeta *chain.TransactionMetadata, transformers []chain.Transformer, plugins []chain.Plugin) ([]byte, error) {
	for _, t := range transformers {
		out, err := t.Underlay(*meta, data, session, txMeta)
		if err != nil {
			return nil, fmt.Errorf("dio: transformer underlay: %w", err)
		}
		data = out
	}
	for _, p := range plugins {
		out, err := p.Underlay(*meta, data, session, txMeta)
		if err != nil {
			return nil, fmt.Errorf("dio: plugin underlay: %w", err)
		}
		data = out
	}
	return data, nil
}

// applyOverlay runs the inbound inverse transform stack: plugins
// first (in reverse registration order), then transformers (also
// reversed), undoing exactly what applyUnderlay did.
func applyOverlay(meta event.Metadata, data []byte, session *chain.Session, transformers []chain.Transformer, plugins []chain.Plugin) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	for i := len(plugins) - 1; i >= 0; i-- {
		out, err := plugins[i].Overlay(meta, data, session)
		if err != nil {
			return nil, fmt.Errorf("dio: plugin overlay: %w", err)
		}
		data = out
	}
	for i := len(transformers) - 1; i >= 0; i-- {
		out, err := transformers[i].Overlay(meta, data, session)
		if err != nil {
			return nil, fmt.Errorf("dio: transformer overlay: %w", err)
		}
		data = out
	}
	return data, nil
}
