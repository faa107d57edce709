package keytemplate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var chunkTime = time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)

func TestRender(t *testing.T) {
	type args struct {
		template string
		static   Values
		tag      string
		vars     map[string]string
		timeKey  *time.Time
		attempt  Values
	}
	tests := []struct {
		name string
		args args
		want string
	}{
		{
			name: "Default key format",
			args: args{
				template: "%{path}/%H%M_%{index}.%{file_extension}",
				static:   Values{Token(Path): "%Y%m%d", Token(FileExtension): "gz"},
				timeKey:  &chunkTime,
				attempt:  Values{Token(Index): "0"},
			},
			want: "20240305/1407_0.gz",
		},
		{
			name: "Index and extension",
			args: args{
				template: "logs/%{index}.%{file_extension}",
				static:   Values{Token(FileExtension): "gz"},
				attempt:  Values{Token(Index): "1"},
			},
			want: "logs/1.gz",
		},
		{
			name: "Unknown placeholders are kept",
			args: args{
				template: "logs/%{nope}/%{index}-${missing}",
				attempt:  Values{Token(Index): "3"},
			},
			want: "logs/%{nope}/3-${missing}",
		},
		{
			name: "Time directives are kept without a time key",
			args: args{
				template: "%Y/%m/%{index}",
				attempt:  Values{Token(Index): "0"},
			},
			want: "%Y/%m/0",
		},
		{
			name: "Chunk keys",
			args: args{
				template: "${tag}/${tag[1]}/${tag[-1]}/${host}/%{hex_random}",
				tag:      "app.web.access",
				vars:     map[string]string{"host": "node-1"},
				attempt:  Values{Token(HexRandom): "beef"},
			},
			want: "app.web.access/web/access/node-1/beef",
		},
		{
			name: "Metadata values are not reinterpreted as time directives",
			args: args{
				template: "${tag}/%Y",
				tag:      "100%Y",
				timeKey:  &chunkTime,
			},
			want: "100%Y/2024",
		},
		{
			name: "Attempt values never replace static placeholders",
			args: args{
				template: "%{path}-%{index}",
				attempt:  Values{Token(Path): "x", Token(Index): "7"},
			},
			want: "%{path}-7",
		},
		{
			name: "Malformed placeholders are text",
			args: args{
				template: "a%{b-%{}c",
			},
			want: "a%{b-%{}c",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl, err := Parse(tt.args.template)
			require.NoError(t, err)

			prepared := tmpl.Expand(tt.args.static)
			if tt.args.timeKey != nil {
				prepared = prepared.FormatTime(*tt.args.timeKey)
			}
			prepared = prepared.ExpandChunkKeys(tt.args.tag, tt.args.vars)

			got := prepared.Render(tt.args.attempt)
			if got != tt.want {
				t.Errorf("Render() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParse_RemovedPlaceholders(t *testing.T) {
	for _, ph := range []string{"%{uuid}", "%{uuid:random}", "%{uuid:hostname}", "%{uuid:timestamp}"} {
		t.Run(ph, func(t *testing.T) {
			_, err := Parse("logs/" + ph + "/%{index}")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrRemovedPlaceholder))
			assert.Contains(t, err.Error(), ph)
		})
	}

	_, err := Parse("logs/${uuid}/%{index}")
	require.NoError(t, err)
}

func TestTemplate_HasAttemptPlaceholder(t *testing.T) {
	tests := []struct {
		template string
		want     bool
	}{
		{"logs/%{index}.gz", true},
		{"logs/%{hex_random}.gz", true},
		{"logs/%{uuid_flush}.gz", true},
		{"logs/fixed.%{file_extension}", false},
		{"logs/${index}.gz", false},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			tmpl, err := Parse(tt.template)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tmpl.HasAttemptPlaceholder())
		})
	}
}

func TestTemplate_Placeholders(t *testing.T) {
	tmpl, err := Parse("%{path}/${tag}/%{index}-%{index}.%{foo}")
	require.NoError(t, err)

	assert.Equal(t, []string{"%{path}", "${tag}", "%{index}", "%{foo}"}, tmpl.Placeholders())
	assert.Equal(t, []string{"%{foo}"}, tmpl.UnknownPlaceholders())
	assert.True(t, tmpl.Has(Path))
	assert.False(t, tmpl.Expand(Values{Token(Path): "p"}).Has(Path))
}

func TestClassOf(t *testing.T) {
	assert.Equal(t, Static, ClassOf("%{path}"))
	assert.Equal(t, Static, ClassOf("%{file_extension}"))
	assert.Equal(t, Metadata, ClassOf("%{time_slice}"))
	assert.Equal(t, Metadata, ClassOf("${tag}"))
	assert.Equal(t, Attempt, ClassOf("%{index}"))
	assert.Equal(t, Attempt, ClassOf("%{hex_random}"))
	assert.Equal(t, Unknown, ClassOf("%{whatever}"))
	assert.Equal(t, "attempt", Attempt.String())
}
