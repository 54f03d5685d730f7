// Package backend is a development stand-in for the translation service. It
// serves the JSON-RPC channel, the legacy text channel and the HTTP routes
// with a deterministic echo engine.
package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
)

// Languages maps the supported short codes onto the model language tags.
var Languages = map[string]string{
	"th": "tha_Thai",
	"en": "eng_Latn",
	"es": "spa_Latn",
	"fr": "fra_Latn",
	"it": "ita_Latn",
	"ru": "rus_Cyrl",
	"de": "deu_Latn",
	"zh": "zho_Hans",
	"ko": "kor_Hang",
	"ja": "jpn_Jpan",
	"ar": "arb_Arab",
}

var ErrUnsupportedLanguage = errors.New("unsupported language code")

// Engine does the actual speech and text work behind the server.
type Engine interface {
	Translate(text, sourceLang, targetLang string) (string, error)
	Transcribe(audio []byte, filename, language string) (string, error)
	Synthesize(text, language string) ([]byte, error)
}

// EchoEngine tags text with the language pair instead of translating it.
// Uploaded audio is read back as UTF-8 text and speech is silent WAV.
type EchoEngine struct{}

func (EchoEngine) Translate(text, sourceLang, targetLang string) (string, error) {
	if err := checkPair(sourceLang, targetLang); err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s→%s) %s", sourceLang, targetLang, strings.TrimSpace(text)), nil
}

func (EchoEngine) Transcribe(audio []byte, _ string, language string) (string, error) {
	if _, ok := Languages[language]; language != "" && !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	if !utf8.Valid(audio) {
		return "", errors.New("audio is not decodable")
	}
	return strings.TrimSpace(string(audio)), nil
}

func (EchoEngine) Synthesize(text, language string) ([]byte, error) {
	if _, ok := Languages[language]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
	return silentWAV(utf8.RuneCountInString(text)), nil
}

// SupportedLanguages returns the short codes in sorted order.
func SupportedLanguages() []string {
	codes := lo.Keys(Languages)
	sort.Strings(codes)
	return codes
}

func checkPair(sourceLang, targetLang string) error {
	_, srcOK := Languages[sourceLang]
	_, tgtOK := Languages[targetLang]
	if !srcOK || !tgtOK {
		return fmt.Errorf("%w: %s->%s", ErrUnsupportedLanguage, sourceLang, targetLang)
	}
	return nil
}

const (
	wavSampleRate  = 16000
	wavMsPerRune   = 40
	wavMaxDuration = 5000
)

// silentWAV renders 16-bit mono PCM silence, 40 ms per rune, capped at 5 s.
func silentWAV(runes int) []byte {
	ms := lo.Clamp(runes*wavMsPerRune, wavMsPerRune, wavMaxDuration)
	dataSize := wavSampleRate * ms / 1000 * 2

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVEfmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(wavSampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(wavSampleRate*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	buf.Write(make([]byte, dataSize))
	return buf.Bytes()
}
