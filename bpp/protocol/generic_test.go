package protocol

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTemplates struct {
	body    map[string]any
	err     error
	lookups []string
}

func (s *stubTemplates) Lookup(_ context.Context, domain, action, persona string) (map[string]any, error) {
	s.lookups = append(s.lookups, domain+"|"+action+"|"+persona)
	return s.body, s.err
}

func TestTemplateHandler_SendsMergedTemplate(t *testing.T) {
	f := newFixture(t)
	templates := &stubTemplates{body: map[string]any{
		"context": map[string]any{"action": "stale", "ttl": "PT30S"},
		"message": map[string]any{"feedback_form": map[string]any{"url": "https://forms.example/1"}},
	}}
	f.engine.templates = templates

	resp, start := f.engine.Handle(context.Background(), ActionRating, request("rating", "txn-1", `{}`), "prosumer")
	require.True(t, resp.Acked())
	start()
	require.Empty(t, f.scheduler.runAll())

	assert.Equal(t, []string{"beckn.one:deg:p2p-trading:2.0.0|on_rating|prosumer"}, templates.lookups)

	url, cb := f.poster.last(t)
	assert.Equal(t, "https://bap.example/on_rating", url)
	assert.Equal(t, "on_rating", cb.Context.Action)
	assert.Equal(t, "msg-txn-1", cb.Context.MessageID)
	assert.Equal(t, "PT30S", cb.Context.TTL)
}

func TestTemplateHandler_NoTemplateSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.engine.templates = &stubTemplates{}

	for _, action := range TemplateActions {
		resp, start := f.engine.Handle(context.Background(), action, request(action, "txn-1", `{}`), "")
		assert.True(t, resp.Acked(), action)
		start()
	}
	assert.Empty(t, f.scheduler.runAll())
	assert.Zero(t, f.poster.count())
}

func TestTemplateHandler_LookupFailureIsSwallowedAfterAck(t *testing.T) {
	f := newFixture(t)
	f.engine.templates = &stubTemplates{err: errors.New("mongo down")}

	resp, start := f.engine.Handle(context.Background(), ActionSupport, request("support", "txn-1", `{}`), "")
	assert.True(t, resp.Acked())
	start()

	errs := f.scheduler.runAll()
	assert.Len(t, errs, 1)
	assert.Zero(t, f.poster.count())
}
