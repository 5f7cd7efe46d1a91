package violation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func floatPtr(f float64) *float64 { return &f }

func types(vs []Violation) []Type {
	out := make([]Type, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Type)
	}
	return out
}

func TestClassify_userAgent(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want bool
	}{
		{name: "regular browser", ua: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36", want: false},
		{name: "empty agent", ua: "", want: false},
		{name: "headless chrome", ua: "Mozilla/5.0 HeadlessChrome/88.0", want: true},
		{name: "selenium", ua: "selenium/3.141", want: true},
		{name: "case insensitive", ua: "PUPPETEER", want: true},
		{name: "phantomjs", ua: "PhantomJS/2.1.1", want: true},
		{name: "playwright", ua: "Playwright/1.8.0", want: true},
		{name: "webdriver", ua: "some-webdriver-client", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(RequestContext{UserAgent: tt.ua})
			if tt.want {
				assert.Equal(t, []Type{TypeSuspiciousUserAgent}, types(got))
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestClassify_rapidSubmission(t *testing.T) {
	tests := []struct {
		name  string
		spent *float64
		want  bool
	}{
		{name: "not reported", spent: nil, want: false},
		{name: "plausible", spent: floatPtr(12.5), want: false},
		{name: "exactly at threshold", spent: floatPtr(2.0), want: false},
		{name: "just under", spent: floatPtr(1.99), want: true},
		{name: "instant", spent: floatPtr(0), want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(RequestContext{TimeSpentSeconds: tt.spent})
			if tt.want {
				assert.Equal(t, []Type{TypeRapidSubmission}, types(got))
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestClassify_uniformTiming(t *testing.T) {
	tests := []struct {
		name      string
		latencies []float64
		want      bool
	}{
		{name: "no samples", latencies: nil, want: false},
		{name: "too few samples", latencies: []float64{5, 5, 5, 5, 5}, want: false},
		{name: "identical timings", latencies: []float64{5, 5, 5, 5, 5, 5}, want: true},
		{name: "near-identical timings", latencies: []float64{5, 5.1, 4.9, 5, 5.05, 4.95}, want: true},
		{name: "human spread", latencies: []float64{1, 9, 2, 8, 3, 7}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(RequestContext{AnswerLatencies: tt.latencies})
			if tt.want {
				assert.Equal(t, []Type{TypeUniformTiming}, types(got))
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestClassify_ipChange(t *testing.T) {
	tests := []struct {
		name    string
		startIP string
		curIP   string
		want    bool
	}{
		{name: "same ip", startIP: "10.0.0.1", curIP: "10.0.0.1", want: false},
		{name: "start ip unknown", startIP: "", curIP: "10.0.0.1", want: false},
		{name: "changed", startIP: "10.0.0.1", curIP: "10.0.0.2", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(RequestContext{AttemptStartIP: tt.startIP, ClientIP: tt.curIP})
			if tt.want {
				assert.Equal(t, []Type{TypeIPChange}, types(got))
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestClassify_hiddenCharacters(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{name: "empty", text: "", want: false},
		{name: "plain text", text: "the mitochondria is the powerhouse of the cell", want: false},
		{name: "unicode but visible", text: "élan vital, Übermensch", want: false},
		{name: "zero width space", text: "pasted\u200Banswer", want: true},
		{name: "zero width joiner", text: "pasted\u200Danswer", want: true},
		{name: "bom in the middle", text: "pasted\uFEFFanswer", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(RequestContext{AnswerText: tt.text})
			if tt.want {
				assert.Equal(t, []Type{TypeHiddenCharacters}, types(got))
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

// independent rules stack on one request
func TestClassify_multipleSignals(t *testing.T) {
	got := Classify(RequestContext{
		UserAgent:        "HeadlessChrome",
		TimeSpentSeconds: floatPtr(0.5),
		AttemptStartIP:   "10.0.0.1",
		ClientIP:         "10.0.0.9",
		AnswerText:       "x​y",
	})
	assert.ElementsMatch(t,
		[]Type{TypeSuspiciousUserAgent, TypeRapidSubmission, TypeIPChange, TypeHiddenCharacters},
		types(got))
}

func TestBucketOf(t *testing.T) {
	tests := []struct {
		typ     Type
		want    Bucket
		wantErr bool
	}{
		{typ: TypeTabSwitch, want: BucketTabSwitch},
		{typ: TypeBlur, want: BucketBlur},
		{typ: TypeExtendedBlur, want: BucketBlur},
		{typ: TypeProlongedBlur, want: BucketBlur},
		{typ: TypeExcessiveBlur, want: BucketBlur},
		{typ: TypeSuspiciousUserAgent, want: BucketAutomation},
		{typ: TypeSessionTakeover, want: BucketSession},
		{typ: Type("made_up"), wantErr: true},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, err := BucketOf(tt.typ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestType_Critical(t *testing.T) {
	critical := []Type{TypeTimeManipulation, TypeSessionTakeover, TypeSuspiciousUserAgent}
	for _, typ := range critical {
		assert.True(t, typ.Critical(), typ)
	}
	for _, typ := range []Type{TypeTabSwitch, TypeBlur, TypeIPChange, TypeRapidRequests} {
		assert.False(t, typ.Critical(), typ)
	}
}
