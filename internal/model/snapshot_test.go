package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDurationMS(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"500ms", 500, false},
		{"5s", 5000, false},
		{"2m", 120000, false},
		{"1h", 3600000, false},
		{"1d", 86400000, false},
		{"5", 5000, false},
		{"abc", 0, true},
		{"5x", 0, true},
	}
	for _, c := range cases {
		got, err := ParseDurationMS(c.in)
		if c.wantErr {
			assert.Error(t, err, c.in)
			continue
		}
		assert.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestMergeOverlayMapRecurses(t *testing.T) {
	base := map[string]interface{}{
		"agent": map[string]interface{}{"a": 1, "b": 2},
	}
	overlay := map[string]interface{}{
		"agent": map[string]interface{}{"b": 3, "c": 4},
	}
	merged := MergeOverlay(base, overlay)
	agent := merged["agent"].(map[string]interface{})
	assert.Equal(t, 1, agent["a"])
	assert.Equal(t, 3, agent["b"])
	assert.Equal(t, 4, agent["c"])
}

func TestMergeOverlaySequenceConcatenates(t *testing.T) {
	base := map[string]interface{}{"tags": []interface{}{"a", "b"}}
	overlay := map[string]interface{}{"tags": []interface{}{"c"}}
	merged := MergeOverlay(base, overlay)
	assert.Equal(t, []interface{}{"a", "b", "c"}, merged["tags"])
}

func TestMergeOverlayScalarReplaces(t *testing.T) {
	base := map[string]interface{}{"level": "info"}
	overlay := map[string]interface{}{"level": "debug"}
	merged := MergeOverlay(base, overlay)
	assert.Equal(t, "debug", merged["level"])
}

func TestMergeOverlayAssociative(t *testing.T) {
	a := map[string]interface{}{"x": map[string]interface{}{"k": 1}}
	b := map[string]interface{}{"x": map[string]interface{}{"k": 2, "j": 1}}
	c := map[string]interface{}{"x": map[string]interface{}{"k": 3}}

	left := MergeOverlay(MergeOverlay(a, b), c)
	right := MergeOverlay(a, MergeOverlay(b, c))
	assert.Equal(t, left, right)
}
