package ot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApply(t *testing.T) {
	tests := []struct {
		name    string
		content string
		op      Operation
		want    string
		wantErr error
	}{
		{"insert head", "abc", Insert(0, "x", "u"), "xabc", nil},
		{"insert tail", "abc", Insert(3, "x", "u"), "abcx", nil},
		{"insert past end", "abc", Insert(4, "x", "u"), "", ErrOutOfBounds},
		{"delete middle", "abcdef", Delete(1, 2, "u"), "adef", nil},
		{"delete past end", "abc", Delete(2, 2, "u"), "", ErrOutOfBounds},
		{"replace", "abcdef", Replace(1, 3, "Z", "u"), "aZef", nil},
		{"replace as pure insert", "ab", Replace(1, 0, "Z", "u"), "aZb", nil},
		{"unknown", "ab", Operation{Type: "move"}, "", ErrUnknownType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply([]rune(tt.content), tt.op)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestApplyAll_LeavesInputUntouchedOnError(t *testing.T) {
	content := []rune("abc")

	_, err := ApplyAll(content, []Operation{Insert(0, "x", "u"), Delete(10, 1, "u")})
	require.Error(t, err)
	assert.Equal(t, "abc", string(content))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Insert(0, "a", "u").Validate())
	assert.ErrorIs(t, Insert(0, "", "u").Validate(), ErrEmptyInsert)
	assert.ErrorIs(t, Delete(0, 0, "u").Validate(), ErrEmptyDelete)
	assert.ErrorIs(t, Delete(-1, 1, "u").Validate(), ErrNegative)
	assert.ErrorIs(t, Operation{Type: "nope"}.Validate(), ErrUnknownType)
}

func TestClamp(t *testing.T) {
	op := Clamp(Delete(3, 10, "u"), 5)
	assert.Equal(t, 3, op.Position)
	assert.Equal(t, 2, op.Length)

	op = Clamp(Insert(9, "x", "u"), 4)
	assert.Equal(t, 4, op.Position)
}
