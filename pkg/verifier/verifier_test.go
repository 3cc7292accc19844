package verifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gather-network/gatherx/pkg/data"
)

type stubVerifier struct{ id string }

func (s stubVerifier) ID() string { return s.id }

func (s stubVerifier) Verify(context.Context, []data.DataEntity) ([]ValidationResult, error) {
	return nil, nil
}

func TestProviderRouting(t *testing.T) {
	reddit := stubVerifier{id: RedditLiteVerifierID}
	x := stubVerifier{id: XApifyVerifierID}
	p := NewProvider(reddit, x)

	got, err := p.ForSource(data.DataSourceReddit)
	require.NoError(t, err)
	assert.Equal(t, RedditLiteVerifierID, got.ID())

	got, err = p.ForSource(data.DataSourceX)
	require.NoError(t, err)
	assert.Equal(t, XApifyVerifierID, got.ID())

	_, err = p.ForSource(data.DataSource(9))
	require.Error(t, err)

	_, err = p.Get("nonexistent")
	require.Error(t, err)
}

func TestProviderMissingPreferred(t *testing.T) {
	// Preference exists for REDDIT but no verifier was registered under it.
	p := NewProvider(stubVerifier{id: XApifyVerifierID})
	_, err := p.ForSource(data.DataSourceReddit)
	require.Error(t, err)
}

func TestEntityFieldsMatch(t *testing.T) {
	when := time.Date(2023, 12, 10, 12, 1, 0, 0, time.UTC)
	base := data.DataEntity{
		URI:      "https://www.reddit.com/r/bittensor_/comments/abc/",
		Datetime: when,
		Source:   data.DataSourceReddit,
		Label:    &data.DataLabel{Value: "r/bittensor_"},
	}

	tests := []struct {
		name    string
		claimed data.DataEntity
		want    bool
	}{
		{
			name:    "identical",
			claimed: base,
			want:    true,
		},
		{
			name: "trailing slash ignored",
			claimed: func() data.DataEntity {
				e := base
				e.URI = "https://www.reddit.com/r/bittensor_/comments/abc"
				return e
			}(),
			want: true,
		},
		{
			name: "label case ignored",
			claimed: func() data.DataEntity {
				e := base
				e.Label = &data.DataLabel{Value: "r/BitTensor_"}
				return e
			}(),
			want: true,
		},
		{
			name: "content bytes ignored",
			claimed: func() data.DataEntity {
				e := base
				e.Content = []byte("different serialization")
				e.ContentSizeBytes = 23
				return e
			}(),
			want: true,
		},
		{
			name: "datetime differs",
			claimed: func() data.DataEntity {
				e := base
				e.Datetime = when.Add(time.Minute)
				return e
			}(),
			want: false,
		},
		{
			name: "source differs",
			claimed: func() data.DataEntity {
				e := base
				e.Source = data.DataSourceX
				return e
			}(),
			want: false,
		},
		{
			name: "label missing",
			claimed: func() data.DataEntity {
				e := base
				e.Label = nil
				return e
			}(),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, entityFieldsMatch(base, tt.claimed))
		})
	}
}
