package encryption

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestEncrypter(t *testing.T) {
	fs := afero.NewMemMapFs()
	log := zaptest.NewLogger(t).Sugar()

	// Key too short
	_, err := New(log, &EncrypterConfig{Key: "tooshortkey", FS: fs})
	require.EqualError(t, err, "key length: 11 invalid, must be 32 bytes")

	// Key too long
	_, err = New(log, &EncrypterConfig{Key: "toolooooooooooooooooooooooooooooooooongkey", FS: fs})
	require.EqualError(t, err, "key length: 42 invalid, must be 32 bytes")

	_, err = New(log, &EncrypterConfig{Key: "äöüäöüäöüäöüäöüä", FS: fs})
	require.EqualError(t, err, "key must only contain ascii characters")

	e, err := New(log, &EncrypterConfig{Key: "01234567891234560123456789123456", FS: fs})
	require.NoError(t, err, "")

	cleartextInput := []byte("This is the content of the file")
	err = afero.WriteFile(fs, "/backups/wordpress.tar.gz", cleartextInput, 0600)
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll("/staging", 0755))

	output, err := e.EncryptFile("/backups/wordpress.tar.gz", "/staging")
	require.NoError(t, err)
	require.Equal(t, "/staging/wordpress.tar.gz"+suffix, output)
	require.True(t, IsEncrypted(output))

	encryptedText, err := afero.ReadFile(fs, output)
	require.NoError(t, err)
	require.NotEqual(t, cleartextInput, encryptedText)

	require.NoError(t, fs.MkdirAll("/restore", 0755))
	cleartextFile, err := e.DecryptFile(output, "/restore")
	require.NoError(t, err)
	require.Equal(t, "/restore/wordpress.tar.gz", cleartextFile)

	cleartext, err := afero.ReadFile(fs, cleartextFile)
	require.NoError(t, err)
	require.Equal(t, cleartextInput, cleartext)

	_, err = e.DecryptFile("/backups/wordpress.tar.gz", "/restore")
	require.Error(t, err)

	// Test with a file spanning multiple buffers
	bigBuff := make([]byte, 5*1024*1024+17)
	for i := range bigBuff {
		bigBuff[i] = byte(i)
	}
	err = afero.WriteFile(fs, "/bigfile.test", bigBuff, 0600)
	require.NoError(t, err)

	bigEncFile, err := e.EncryptFile("/bigfile.test", "/staging")
	require.NoError(t, err)
	bigDecFile, err := e.DecryptFile(bigEncFile, "/restore")
	require.NoError(t, err)
	bigResult, err := afero.ReadFile(fs, bigDecFile)
	require.NoError(t, err)
	require.Equal(t, bigBuff, bigResult)
}

func TestDecryptWithOtherKey(t *testing.T) {
	fs := afero.NewMemMapFs()
	log := zaptest.NewLogger(t).Sugar()

	e, err := New(log, &EncrypterConfig{Key: "01234567891234560123456789123456", FS: fs})
	require.NoError(t, err)
	other, err := New(log, &EncrypterConfig{Key: "65432109876543216543210987654321", FS: fs})
	require.NoError(t, err)

	require.NoError(t, afero.WriteFile(fs, "/backups/db_example.com.sql", []byte("CREATE TABLE wp_posts;"), 0600))

	encrypted, err := e.EncryptFile("/backups/db_example.com.sql", "/staging")
	require.NoError(t, err)

	decrypted, err := other.DecryptFile(encrypted, "/restore")
	require.NoError(t, err)

	content, err := afero.ReadFile(fs, decrypted)
	require.NoError(t, err)
	require.NotEqual(t, "CREATE TABLE wp_posts;", string(content))

	_, err = e.DecryptFile("/missing.sql.aes", "/restore")
	require.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/truncated.sql.aes", []byte("short"), 0600))
	_, err = e.DecryptFile("/truncated.sql.aes", "/restore")
	require.ErrorContains(t, err, "could not read iv")

	exists, err := afero.Exists(fs, "/restore/truncated.sql")
	require.NoError(t, err)
	require.False(t, exists)
}
