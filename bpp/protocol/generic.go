package protocol

import (
	"context"
	"fmt"
	"log/slog"
)

// templateHandler answers action from a stored template. Without a template
// nothing is sent back.
func (e *Engine) templateHandler(action string) handlerFunc {
	return func(ctx context.Context, req *Request, persona string) (any, error) {
		if e.templates == nil {
			return nil, nil
		}

		domain := firstNonEmpty(req.Context.Domain, e.cfg.Domain)
		body, err := e.templates.Lookup(ctx, domain, "on_"+action, persona)
		if err != nil {
			return nil, fmt.Errorf("template lookup for on_%s: %w", action, err)
		}
		if len(body) == 0 {
			slog.Debug("No callback template",
				slog.String("type", "cb"),
				slog.String("action", "on_"+action),
				slog.String("domain", domain),
				slog.String("persona", persona),
			)
			return nil, nil
		}

		return mergeTemplate(body, e.callbackContext(req.Context, action)), nil
	}
}

// mergeTemplate copies the template and lays the generated context over any
// context the template carries.
func mergeTemplate(template map[string]any, cbCtx Context) map[string]any {
	out := make(map[string]any, len(template)+1)
	for k, v := range template {
		out[k] = v
	}

	merged := make(map[string]any)
	if tc, ok := template["context"].(map[string]any); ok {
		for k, v := range tc {
			merged[k] = v
		}
	}
	for k, v := range cbCtx.toMap() {
		merged[k] = v
	}
	out["context"] = merged
	return out
}
