package provider_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShayCichocki/swarm/internal/provider"
	"github.com/ShayCichocki/swarm/internal/provider/providertest"
	"github.com/ShayCichocki/swarm/pkg/models"
)

func names(ps []provider.Provider) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name()
	}
	return out
}

func newRouter(account provider.Account) *provider.Router {
	r := provider.NewRouter([]string{"claude", "anthropic"}, account)
	r.Register(providertest.Static("claude"))
	r.Register(providertest.Static("anthropic"))
	r.Register(providertest.Static("codex"))
	return r
}

func TestRouter_DefaultOrder(t *testing.T) {
	r := newRouter(provider.Account{})

	got, err := r.Candidates("", models.SelectionAuto)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "anthropic", "codex"}, names(got))
	assert.Equal(t, []string{"claude", "anthropic", "codex"}, r.Names())
}

func TestRouter_PreferenceOrder(t *testing.T) {
	r := newRouter(provider.Account{Preferred: "anthropic"})

	got, err := r.Candidates("codex", models.SelectionAuto)
	require.NoError(t, err)
	assert.Equal(t, []string{"codex", "anthropic", "claude"}, names(got))
}

func TestRouter_UnknownPreferenceSkipped(t *testing.T) {
	r := newRouter(provider.Account{})

	got, err := r.Candidates("mystery", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"claude", "anthropic", "codex"}, names(got))
}

func TestRouter_AllowList(t *testing.T) {
	r := newRouter(provider.Account{Allowed: []string{"codex", "anthropic"}})

	got, err := r.Candidates("claude", models.SelectionAuto)
	require.NoError(t, err)
	assert.Equal(t, []string{"anthropic", "codex"}, names(got))

	_, err = r.Candidates("claude", models.SelectionPinned)
	assert.ErrorIs(t, err, provider.ErrNoCandidates)
}

func TestRouter_Pinned(t *testing.T) {
	r := newRouter(provider.Account{})

	got, err := r.Candidates("codex", models.SelectionPinned)
	require.NoError(t, err)
	assert.Equal(t, []string{"codex"}, names(got))

	_, err = r.Candidates("mystery", models.SelectionPinned)
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)

	_, err = r.Candidates("", models.SelectionPinned)
	assert.ErrorIs(t, err, provider.ErrNoCandidates)
}

func TestRouter_Empty(t *testing.T) {
	r := provider.NewRouter([]string{"claude"}, provider.Account{})
	_, err := r.Candidates("", "")
	assert.ErrorIs(t, err, provider.ErrNoCandidates)

	_, err = r.Get("claude")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}
