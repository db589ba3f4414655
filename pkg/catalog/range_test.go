package catalog_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/apnisec/npmguard/pkg/catalog"
)

func TestSatisfies(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		rangeExpr string
		want      bool
	}{
		{
			name:      "upper bound only",
			version:   "4.17.20",
			rangeExpr: "<4.17.21",
			want:      true,
		},
		{
			name:      "upper bound boundary excluded",
			version:   "4.17.21",
			rangeExpr: "<4.17.21",
			want:      false,
		},
		{
			name:      "bounded interval",
			version:   "8.5.0",
			rangeExpr: ">=8.0.0 <8.17.1",
			want:      true,
		},
		{
			name:      "below bounded interval",
			version:   "7.5.0",
			rangeExpr: ">=8.0.0 <8.17.1",
			want:      false,
		},
		{
			name:      "or of comparator sets",
			version:   "5.0.3",
			rangeExpr: "<4.4.15 || >=5.0.0 <5.0.7 || >=6.0.0 <6.1.2",
			want:      true,
		},
		{
			name:      "gap between or sets",
			version:   "5.0.7",
			rangeExpr: "<4.4.15 || >=5.0.0 <5.0.7 || >=6.0.0 <6.1.2",
			want:      false,
		},
		{
			name:      "exact equality",
			version:   "1.0.7",
			rangeExpr: "=1.0.7",
			want:      true,
		},
		{
			name:      "unparsable version never matches",
			version:   "not-a-version",
			rangeExpr: "<4.17.21",
			want:      false,
		},
		{
			name:      "unparsable range never matches",
			version:   "1.0.0",
			rangeExpr: "between 1 and 2",
			want:      false,
		},
		{
			name:      "empty version never matches",
			version:   "",
			rangeExpr: "<4.17.21",
			want:      false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, catalog.Satisfies(tt.version, tt.rangeExpr))
		})
	}
}

func TestValidRange(t *testing.T) {
	tests := []struct {
		name      string
		rangeExpr string
		want      bool
	}{
		{name: "simple comparator", rangeExpr: "<4.17.21", want: true},
		{name: "comparator set", rangeExpr: ">=8.0.0 <8.17.1", want: true},
		{name: "or expression", rangeExpr: "=1.0.0||=1.0.1", want: true},
		{name: "garbage", rangeExpr: "between 1 and 2", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, catalog.ValidRange(tt.rangeExpr))
		})
	}
}
