package preference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prefs(languages, difficulties, topics []string) Preferences {
	return Preferences{Languages: languages, Difficulties: difficulties, Topics: topics}
}

func TestOverlap_AllDimensionsMustOverlap(t *testing.T) {
	base := prefs([]string{"python"}, []string{"easy"}, []string{"array"})

	cases := []struct {
		name  string
		other Preferences
		want  bool
	}{
		{"identical", base, true},
		{"language disjoint", prefs([]string{"java"}, []string{"easy"}, []string{"array"}), false},
		{"difficulty disjoint", prefs([]string{"python"}, []string{"hard"}, []string{"array"}), false},
		{"topic disjoint", prefs([]string{"python"}, []string{"easy"}, []string{"graph"}), false},
		{"superset", prefs([]string{"python", "java"}, []string{"easy", "hard"}, []string{"array", "tree"}), true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Overlap(base.Encode(), c.other.Encode()))
			assert.Equal(t, c.want, Overlap(c.other.Encode(), base.Encode()))
		})
	}
}

func TestOverlap_LanguageSubsets(t *testing.T) {
	fixed := func(languages ...string) Encoded {
		return prefs(languages, []string{"medium"}, []string{"tree", "graph"}).Encode()
	}

	assert.True(t, Overlap(fixed("java", "python"), fixed("java")))
	assert.False(t, Overlap(fixed("cpp"), fixed("java", "python")))
}

func TestOverlap_MissingField(t *testing.T) {
	full := prefs([]string{"python"}, []string{"easy"}, []string{"array"}).Encode()
	missing := full
	missing.Topics = ""

	assert.False(t, Overlap(full, missing))
	assert.False(t, Overlap(missing, full))
}

func TestOverlap_EmptySelectionNeverOverlaps(t *testing.T) {
	empty := prefs([]string{"python"}, []string{"easy"}, nil).Encode()
	assert.False(t, Overlap(empty, empty))
}

func TestWithCode_NormalizesAndRoundTrips(t *testing.T) {
	p := prefs([]string{"java", "PYTHON"}, []string{"Hard"}, []string{"tree", "array"}).WithCode()

	assert.Equal(t, []string{"PYTHON", "JAVA"}, p.Languages)
	assert.Equal(t, []string{"HARD"}, p.Difficulties)
	assert.Equal(t, []string{"ARRAY", "TREE"}, p.Topics)
	require.NotEmpty(t, p.Code)

	enc, err := DecodeCode(p.Code)
	require.NoError(t, err)
	assert.Equal(t, p.Encode(), enc)
}

func TestWithCode_SameSetsSameCode(t *testing.T) {
	a := prefs([]string{"python", "java"}, []string{"easy"}, []string{"array"}).WithCode()
	b := prefs([]string{"JAVA", "python"}, []string{"EASY"}, []string{"Array"}).WithCode()
	assert.Equal(t, a.Code, b.Code)
}

func TestSharedLanguages(t *testing.T) {
	a := prefs([]string{"python", "java", "go"}, nil, nil)
	b := prefs([]string{"go", "cpp", "java"}, nil, nil)
	assert.Equal(t, []string{"JAVA", "GO"}, SharedLanguages(a, b))
	assert.Empty(t, SharedLanguages(a, prefs([]string{"cpp"}, nil, nil)))
}

func TestGenerateRoomID(t *testing.T) {
	id := GenerateRoomID("alice", "bob", "q1", "PYTHON")

	assert.Len(t, id, RoomIDLength)
	assert.Equal(t, id, GenerateRoomID("alice", "bob", "q1", "PYTHON"))
	assert.Equal(t, id, GenerateRoomID("alice", "bob", "q1", "python"), "language is lower-cased")
	assert.NotEqual(t, id, GenerateRoomID("bob", "alice", "q1", "PYTHON"))
	assert.NotEqual(t, id, GenerateRoomID("alice", "bob", "q2", "PYTHON"))
}

func TestVerifyRoomID_EitherOrder(t *testing.T) {
	forward := GenerateRoomID("alice", "bob", "q1", "java")
	backward := GenerateRoomID("bob", "alice", "q1", "java")

	assert.True(t, VerifyRoomID(forward, "alice", "bob", "q1", "java"))
	assert.True(t, VerifyRoomID(forward, "bob", "alice", "q1", "java"))
	assert.True(t, VerifyRoomID(backward, "alice", "bob", "q1", "java"))
	assert.False(t, VerifyRoomID(forward, "alice", "carol", "q1", "java"))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, prefs([]string{"go"}, []string{"hard"}, []string{"graph"}).Validate())

	err := prefs([]string{"go"}, []string{"hard"}, []string{"knitting"}).Validate()
	assert.ErrorIs(t, err, ErrEmptySelection)
	assert.ErrorContains(t, err, "topic")

	assert.ErrorIs(t, prefs(nil, []string{"easy"}, []string{"array"}).Validate(), ErrEmptySelection)
}
