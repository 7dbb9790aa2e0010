package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"unicode"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// suffix is appended on encryption and removed on decryption from given input
const suffix = ".aes"

// Encrypter is used to encrypt/decrypt backup files before they leave the host
type Encrypter struct {
	fs  afero.Fs
	key string
	log *zap.SugaredLogger
}

// EncrypterConfig provides configuration for the Encrypter
type EncrypterConfig struct {
	FS  afero.Fs
	Key string
}

// New creates a new Encrypter with the given key.
// The key should be 32 bytes (AES-256)
func New(log *zap.SugaredLogger, config *EncrypterConfig) (*Encrypter, error) {
	if config == nil {
		return nil, errors.New("encrypter requires a config")
	}
	if len(config.Key) != 32 {
		return nil, fmt.Errorf("key length: %d invalid, must be 32 bytes", len(config.Key))
	}
	if !isASCII(config.Key) {
		return nil, fmt.Errorf("key must only contain ascii characters")
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}

	return &Encrypter{
		log: log,
		key: config.Key,
		fs:  config.FS,
	}, nil
}

// EncryptFile encrypts input into outputDir, appends the encryption suffix and returns the path of the result
func (e *Encrypter) EncryptFile(input, outputDir string) (string, error) {
	output := filepath.Join(outputDir, filepath.Base(input)+suffix)

	in, err := e.fs.Open(input)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := e.fs.Create(output)
	if err != nil {
		return "", err
	}

	if err := e.Encrypt(in, out); err != nil {
		_ = out.Close()
		_ = e.fs.Remove(output)
		return "", fmt.Errorf("unable to encrypt %q: %w", input, err)
	}

	e.log.Debugw("encrypted file", "input", input, "output", output)

	return output, out.Close()
}

// DecryptFile decrypts input into outputDir with the encryption suffix removed and returns the path of the result
func (e *Encrypter) DecryptFile(input, outputDir string) (string, error) {
	if !IsEncrypted(input) {
		return "", fmt.Errorf("input %q is not encrypted", input)
	}
	output := filepath.Join(outputDir, filepath.Base(input[:len(input)-len(suffix)]))

	in, err := e.fs.Open(input)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := e.fs.Create(output)
	if err != nil {
		return "", err
	}

	if err := e.Decrypt(in, out); err != nil {
		_ = out.Close()
		_ = e.fs.Remove(output)
		return "", fmt.Errorf("unable to decrypt %q: %w", input, err)
	}

	e.log.Debugw("decrypted file", "input", input, "output", output)

	return output, out.Close()
}

// Encrypt reads the input stream and writes iv and ciphertext to the output
func (e *Encrypter) Encrypt(inputReader io.Reader, outputWriter io.Writer) error {
	block, err := e.createCipher()
	if err != nil {
		return err
	}

	iv, err := e.generateIV(block)
	if err != nil {
		return err
	}

	if _, err := outputWriter.Write(iv); err != nil {
		return fmt.Errorf("could not pretext iv: %w", err)
	}

	w := &cipher.StreamWriter{S: cipher.NewCTR(block, iv), W: outputWriter}
	if _, err := io.Copy(w, inputReader); err != nil {
		return fmt.Errorf("error encrypting stream: %w", err)
	}

	return nil
}

// Decrypt reads iv and ciphertext from the input stream and writes the cleartext to the output
func (e *Encrypter) Decrypt(inputReader io.Reader, outputWriter io.Writer) error {
	block, err := e.createCipher()
	if err != nil {
		return err
	}

	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(inputReader, iv); err != nil {
		return fmt.Errorf("could not read iv: %w", err)
	}

	r := &cipher.StreamReader{S: cipher.NewCTR(block, iv), R: inputReader}
	if _, err := io.Copy(outputWriter, r); err != nil {
		return fmt.Errorf("error decrypting stream: %w", err)
	}

	return nil
}

func isASCII(s string) bool {
	for _, c := range s {
		if c > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// createCipher returns new cipher block for encryption/decryption based on encryption-key
func (e *Encrypter) createCipher() (cipher.Block, error) {
	return aes.NewCipher([]byte(e.key))
}

// generateIV returns unique initialization vector of same size as cipher block for encryption
func (e *Encrypter) generateIV(block cipher.Block) ([]byte, error) {
	iv := make([]byte, block.BlockSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}
	return iv, nil
}

// IsEncrypted tests if target file is encrypted
func IsEncrypted(path string) bool {
	return filepath.Ext(path) == suffix
}
