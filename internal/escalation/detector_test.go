package escalation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	category string
	err      error
	calls    int
}

func (f *fakeClassifier) ClassifyEscalation(ctx context.Context, text string) (string, error) {
	f.calls++
	return f.category, f.err
}

func TestDetectDeterministicRules(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		category Category
	}{
		{"violence kill", "I will kill you if you text me again", CategoryViolenceThreat},
		{"violence hurt", "I'm going to hurt you", CategoryViolenceThreat},
		{"violence burn", "I'll burn down your clinic", CategoryViolenceThreat},
		{"legal sue", "I'm going to sue your business", CategoryLegalThreat},
		{"legal lawyer", "My lawyer will be in touch", CategoryLegalThreat},
		{"legal malpractice", "This is malpractice and I have proof", CategoryLegalThreat},
		{"medical pain", "I'm in severe pain after my appointment", CategoryMedicalEmergency},
		{"medical allergy", "I think I'm having an allergic reaction", CategoryMedicalEmergency},
		{"medical swelling", "My face is swollen and red", CategoryMedicalEmergency},
		{"dnc stop texting", "Stop texting me", CategoryDoNotContact},
		{"dnc unsubscribe", "unsubscribe", CategoryDoNotContact},
		{"dnc leave alone", "Leave me alone please", CategoryDoNotContact},
		{"dnc opt out", "OPT OUT", CategoryDoNotContact},
	}

	classifier := &fakeClassifier{category: "none"}
	d := NewDetector(DefaultRules(), classifier)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Detect(context.Background(), tt.text)
			require.NoError(t, err)
			assert.True(t, got.Triggered)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, SourceDeterministic, got.Source)
		})
	}

	// Deterministic matches never reach the classifier.
	assert.Zero(t, classifier.calls)
}

func TestDetectPriorityOrder(t *testing.T) {
	d := NewDetector(DefaultRules(), nil)

	// Legal outranks do-not-contact even when both patterns match.
	got, err := d.Detect(context.Background(), "Stop texting me or I will sue")
	require.NoError(t, err)
	assert.Equal(t, CategoryLegalThreat, got.Category)

	// Violence outranks everything.
	got, err = d.Detect(context.Background(), "Don't contact me again or I will kill you")
	require.NoError(t, err)
	assert.Equal(t, CategoryViolenceThreat, got.Category)
}

func TestDetectDeterministicIsRepeatable(t *testing.T) {
	d := NewDetector(DefaultRules(), nil)
	text := "My lawyer says this is a lawsuit waiting to happen"

	first, err := d.Detect(context.Background(), text)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, err := d.Detect(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
}

func TestDetectFallsBackToClassifier(t *testing.T) {
	classifier := &fakeClassifier{category: "extreme_anger"}
	d := NewDetector(DefaultRules(), classifier)

	got, err := d.Detect(context.Background(), "This is absolutely unacceptable, worst service ever")
	require.NoError(t, err)
	assert.True(t, got.Triggered)
	assert.Equal(t, CategoryExtremeAnger, got.Category)
	assert.Equal(t, SourceModel, got.Source)
	assert.Equal(t, 1, classifier.calls)
}

func TestDetectClassifierNone(t *testing.T) {
	classifier := &fakeClassifier{category: "none"}
	d := NewDetector(DefaultRules(), classifier)

	got, err := d.Detect(context.Background(), "What time do you open tomorrow?")
	require.NoError(t, err)
	assert.False(t, got.Triggered)
	assert.Equal(t, CategoryNone, got.Category)
	assert.Equal(t, SourceModel, got.Source)
}

func TestDetectFailsClosedOnClassifierError(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("upstream timeout")}
	d := NewDetector(DefaultRules(), classifier)

	got, err := d.Detect(context.Background(), "Can I reschedule my facial?")
	assert.ErrorIs(t, err, ErrDetectionDegraded)
	assert.False(t, got.Triggered)
	assert.Equal(t, CategoryNone, got.Category)
}

func TestDetectFailsClosedOnUnrecognizedCategory(t *testing.T) {
	classifier := &fakeClassifier{category: "i_am_feeling_creative"}
	d := NewDetector(DefaultRules(), classifier)

	got, err := d.Detect(context.Background(), "hello there")
	assert.ErrorIs(t, err, ErrDetectionDegraded)
	assert.False(t, got.Triggered)
	assert.Equal(t, CategoryNone, got.Category)
}

func TestDetectNoClassifier(t *testing.T) {
	d := NewDetector(DefaultRules(), nil)

	got, err := d.Detect(context.Background(), "Just checking on my appointment")
	require.NoError(t, err)
	assert.False(t, got.Triggered)
	assert.Equal(t, CategoryNone, got.Category)
}

func TestParseCategory(t *testing.T) {
	got, ok := ParseCategory("  Legal_Threat \n")
	assert.True(t, ok)
	assert.Equal(t, CategoryLegalThreat, got)

	_, ok = ParseCategory("shrug")
	assert.False(t, ok)
}
