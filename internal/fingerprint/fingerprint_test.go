package fingerprint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestClassifyDeterministicRules(t *testing.T) {
	c := NewClassifier(nil)
	ctx := context.Background()

	tests := []struct {
		name        string
		content     string
		fingerprint string
		confidence  float64
	}{
		{"phone", "My phone number is 555-123-4567", UserPhoneNumber, 0.95},
		{"phone reach me", "You can reach me at (212) 555-0100", UserPhoneNumber, 0.95},
		{"email", "my email is dana@example.com", UserEmail, 0.95},
		{"salary", "I make $120,000 a year", UserSalary, 0.90},
		{"age", "I'm 34 years old", UserAge, 0.85},
		{"meeting", "my weekly standup is at 9:30", UserMeetingTime, 0.85},
		{"timezone", "my timezone is Eastern Time", UserTimezone, 0.85},
		{"marital", "I got married last June", UserMaritalStatus, 0.90},
		{"spouse", "my wife is Dana", UserSpouseName, 0.90},
		{"children", "I have two kids", UserChildrenCount, 0.85},
		{"pet", "my dog is a golden retriever named Biscuit", UserPet, 0.85},
		{"color", "my favorite color is teal", UserFavoriteColor, 0.90},
		{"job", "I work as a staff engineer", UserJobTitle, 0.85},
		{"employer", "I work at Initech", UserEmployer, 0.85},
		{"residence", "I live in Portland", UserResidence, 0.85},
		{"name", "my name is Priya", UserName, 0.90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(ctx, tt.content)
			assert.Equal(t, tt.fingerprint, res.Fingerprint)
			assert.Equal(t, MethodDeterministic, res.Method)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
			assert.True(t, res.ValueSignature)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	c := NewClassifier(nil)
	ctx := context.Background()

	content := "My phone number is 555-123-4567"
	first := c.Classify(ctx, content)
	for i := 0; i < 50; i++ {
		again := c.Classify(ctx, content)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("classification drifted across calls (-first +again):\n%s", diff)
		}
	}
}

func TestValueSignatureGuard(t *testing.T) {
	c := NewClassifier(nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		content string
	}{
		// Each of these trips a rule pattern but carries no literal value.
		{"phone without digits", "My phone number is unlisted"},
		{"email without address", "my email is private"},
		{"color outside palette", "my favorite color is indescribable"},
		{"spouse without name", "my wife is wonderful"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Classify(ctx, tt.content)
			assert.Empty(t, res.Fingerprint)
			assert.Equal(t, MethodRejected, res.Method)
			assert.False(t, res.ValueSignature)
		})
	}
}

func TestClassifyNoMatch(t *testing.T) {
	c := NewClassifier(nil)

	res := c.Classify(context.Background(), "the weather was nice today")
	assert.Empty(t, res.Fingerprint)
	assert.Equal(t, MethodNone, res.Method)
	assert.Zero(t, res.Confidence)
}

func TestClassifyEmptyContent(t *testing.T) {
	c := NewClassifier(nil)

	res := c.Classify(context.Background(), "   ")
	assert.Empty(t, res.Fingerprint)
	assert.Equal(t, MethodNone, res.Method)
}

func TestSpecificRulesOutrankLoose(t *testing.T) {
	c := NewClassifier(nil)

	// "email me at" should never fall through to residence via "at".
	res := c.Classify(context.Background(), "email me at sam@example.org, I live in Austin")
	assert.Equal(t, UserEmail, res.Fingerprint)
}

type mockModelClassifier struct {
	classifyFunc func(ctx context.Context, content string) (string, error)
}

func (m *mockModelClassifier) ClassifyFingerprint(ctx context.Context, content string) (string, error) {
	return m.classifyFunc(ctx, content)
}

func TestModelFallback(t *testing.T) {
	mc := &mockModelClassifier{
		classifyFunc: func(ctx context.Context, content string) (string, error) {
			return UserResidence, nil
		},
	}
	c := NewClassifier(mc)

	// No deterministic rule matches, but the fallback recognizes it and the
	// content carries a proper noun for the signature.
	res := c.Classify(context.Background(), "Lisbon has been home since last spring")
	assert.Equal(t, UserResidence, res.Fingerprint)
	assert.Equal(t, MethodModel, res.Method)
	assert.InDelta(t, FallbackConfidenceCap, res.Confidence, 1e-9)
}

func TestModelFallbackConfidenceCapped(t *testing.T) {
	// The cap sits below the supersession gate threshold, so model guesses
	// can never supersede facts on their own.
	assert.Less(t, FallbackConfidenceCap, 0.85)
}

func TestModelFallbackTimeout(t *testing.T) {
	mc := &mockModelClassifier{
		classifyFunc: func(ctx context.Context, content string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	c := NewClassifier(mc)
	c.fallbackTimeout = 10 * time.Millisecond

	res := c.Classify(context.Background(), "something only a model would understand")
	assert.Empty(t, res.Fingerprint)
	assert.Equal(t, MethodTimeout, res.Method)
}

func TestModelFallbackUnknownLabel(t *testing.T) {
	mc := &mockModelClassifier{
		classifyFunc: func(ctx context.Context, content string) (string, error) {
			return "user_shoe_size", nil
		},
	}
	c := NewClassifier(mc)

	res := c.Classify(context.Background(), "my shoes are size 11")
	assert.Empty(t, res.Fingerprint)
	assert.Equal(t, MethodNone, res.Method)
}

func TestModelFallbackError(t *testing.T) {
	mc := &mockModelClassifier{
		classifyFunc: func(ctx context.Context, content string) (string, error) {
			return "", errors.New("provider exploded")
		},
	}
	c := NewClassifier(mc)

	res := c.Classify(context.Background(), "unclassifiable content")
	assert.Empty(t, res.Fingerprint)
	assert.Equal(t, MethodNone, res.Method)
}

func TestModelFallbackSubjectToSignatureGuard(t *testing.T) {
	mc := &mockModelClassifier{
		classifyFunc: func(ctx context.Context, content string) (string, error) {
			return UserPhoneNumber, nil
		},
	}
	c := NewClassifier(mc)

	// Model says phone, but there are no digits to back it.
	res := c.Classify(context.Background(), "you already know how to contact me")
	assert.Empty(t, res.Fingerprint)
}

func TestHasValueSignatureUnknownKeyFailsClosed(t *testing.T) {
	assert.False(t, HasValueSignature("user_shoe_size", "size 11"))
}
