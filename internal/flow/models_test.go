package flow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarluq/flow-relay/internal/apperr"
	"github.com/omarluq/flow-relay/internal/flow"
)

func TestModelsSorted(t *testing.T) {
	t.Parallel()

	models := flow.Models()
	require.NotEmpty(t, models)
	for i := 1; i < len(models); i++ {
		assert.Less(t, models[i-1].Name, models[i].Name)
	}
}

func TestLookupModel(t *testing.T) {
	t.Parallel()

	m, ok := flow.LookupModel(" veo_3_1_t2v_fast_portrait ")
	require.True(t, ok)
	assert.Equal(t, flow.KindVideo, m.Kind)
	assert.Equal(t, flow.VideoPortrait, m.AspectRatio)

	_, ok = flow.LookupModel("dall-e-3")
	assert.False(t, ok)
}

func TestValidateInputs(t *testing.T) {
	t.Parallel()

	imagen, _ := flow.LookupModel("imagen-4.0-generate-preview-landscape")
	assert.NoError(t, imagen.ValidateInputs(0))
	assert.True(t, apperr.IsKind(imagen.ValidateInputs(1), apperr.KindInvalidRequest))

	frames, _ := flow.LookupModel("veo_3_1_i2v_s_fast_fl_landscape")
	assert.True(t, apperr.IsKind(frames.ValidateInputs(0), apperr.KindInvalidRequest))
	assert.NoError(t, frames.ValidateInputs(2))
	assert.True(t, apperr.IsKind(frames.ValidateInputs(3), apperr.KindInvalidRequest))
}

func TestResolveAspect(t *testing.T) {
	t.Parallel()

	gem, _ := flow.LookupModel("gemini-2.5-flash-image-landscape")
	got, err := gem.ResolveAspect("")
	require.NoError(t, err)
	assert.Equal(t, flow.ImageLandscape, got)

	got, err = gem.ResolveAspect("square")
	require.NoError(t, err)
	assert.Equal(t, flow.ImageSquare, got)

	veo, _ := flow.LookupModel("veo_3_1_t2v_fast_landscape")
	got, err = veo.ResolveAspect("portrait")
	require.NoError(t, err)
	assert.Equal(t, flow.VideoPortrait, got)

	_, err = veo.ResolveAspect("square")
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidRequest))
}

func TestUserAgentStable(t *testing.T) {
	t.Parallel()

	a := flow.UserAgentFor("a@example.com")
	assert.Equal(t, a, flow.UserAgentFor("a@example.com"))
	assert.Contains(t, a, "Mozilla/5.0")
}

func TestSessionIDFormat(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ";1700000000000", flow.NewSessionID(time.UnixMilli(1700000000000)))
}
