package secrets

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/florai/contrib-pipeline/internal/errors"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		env     map[string]string
		want    string
		wantErr bool
	}{
		{name: "empty", input: "", want: ""},
		{name: "literal", input: "literal-value", want: "literal-value"},
		{name: "variable", input: "${FLORAI_TEST_TOKEN}", env: map[string]string{"FLORAI_TEST_TOKEN": "s3cret"}, want: "s3cret"},
		{name: "embedded", input: "user:${FLORAI_TEST_PASS}@db", env: map[string]string{"FLORAI_TEST_PASS": "pw"}, want: "user:pw@db"},
		{name: "fallback unused", input: "${FLORAI_TEST_TOKEN:-dev}", env: map[string]string{"FLORAI_TEST_TOKEN": "prod"}, want: "prod"},
		{name: "fallback used", input: "${FLORAI_TEST_TOKEN:-dev}", want: "dev"},
		{name: "empty fallback", input: "${FLORAI_TEST_TOKEN:-}", want: ""},
		{name: "missing", input: "${FLORAI_TEST_MISSING}", wantErr: true},
		{name: "missing inside text", input: "a-${FLORAI_TEST_MISSING}-b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("FLORAI_TEST_TOKEN", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			got, err := ExpandString(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "FLORAI_TEST_MISSING")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string, mode os.FileMode) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), mode))
		return path
	}

	t.Run("trims trailing newlines only", func(t *testing.T) {
		got, err := ReadFile(write("padded", "  token  \r\n\n", 0o400))
		require.NoError(t, err)
		assert.Equal(t, "  token  ", got)
	})

	t.Run("permissive mode is accepted", func(t *testing.T) {
		got, err := ReadFile(write("open", "secret", 0o644))
		require.NoError(t, err)
		assert.Equal(t, "secret", got)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := ReadFile(filepath.Join(dir, "absent"))
		require.Error(t, err)
		assert.ErrorIs(t, err, fs.ErrNotExist)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := ReadFile(write("empty", "\n", 0o400))
		assert.ErrorContains(t, err, "empty")
	})

	t.Run("directory", func(t *testing.T) {
		sub := filepath.Join(dir, "sub")
		require.NoError(t, os.Mkdir(sub, 0o750))
		_, err := ReadFile(sub)
		assert.ErrorContains(t, err, "not a regular file")
	})

	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(dir, "large")
		require.NoError(t, os.WriteFile(path, make([]byte, maxSecretFileSize+1), 0o400))
		_, err := ReadFile(path)
		require.Error(t, err)
		var ee *errors.EnhancedError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, string(errors.CategoryLimit), ee.GetCategory())
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := ReadFile("")
		assert.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	secretFile := filepath.Join(dir, "jwt")
	require.NoError(t, os.WriteFile(secretFile, []byte("from-file\n"), 0o400))

	t.Run("file wins over value", func(t *testing.T) {
		t.Setenv("FLORAI_TEST_SECRET_FILE", secretFile)
		value := "from-config"
		require.NoError(t, Resolve([]Ref{{Key: "auth.jwt_secret", FileEnv: "FLORAI_TEST_SECRET_FILE", Value: &value}}))
		assert.Equal(t, "from-file", value)
	})

	t.Run("expands references", func(t *testing.T) {
		t.Setenv("FLORAI_TEST_SECRET_FILE", "")
		t.Setenv("FLORAI_TEST_PASSWORD", "hunter2")
		value := "${FLORAI_TEST_PASSWORD}"
		require.NoError(t, Resolve([]Ref{{Key: "mqtt.password", FileEnv: "FLORAI_TEST_SECRET_FILE", Value: &value}}))
		assert.Equal(t, "hunter2", value)
	})

	t.Run("literal untouched", func(t *testing.T) {
		value := "plain$text"
		require.NoError(t, Resolve([]Ref{{Key: "mqtt.password", Value: &value}}))
		assert.Equal(t, "plain$text", value)
	})

	t.Run("errors name the setting", func(t *testing.T) {
		t.Setenv("FLORAI_TEST_SECRET_FILE", filepath.Join(dir, "absent"))
		value := ""
		err := Resolve([]Ref{{Key: "database.mysql.password", FileEnv: "FLORAI_TEST_SECRET_FILE", Value: &value}})
		assert.ErrorContains(t, err, "database.mysql.password")
	})
}
