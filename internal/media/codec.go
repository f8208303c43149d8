// Package media はレコードの画像フィールドを表示可能なdata URIに正規化する。
//
// リモートAPIは画像を複数のキー名（photo, userphoto, avatar など）で返し、
// 値もbase64、16進文字列、JSON文字列として二重エンコードされたものが混在する。
// Codecはそれらを data:image/jpeg;base64,... の1形式に揃える。
package media

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
)

const (
	// DataURIPrefix は生成するdata URIの接頭辞。
	DataURIPrefix = "data:image/jpeg;base64,"
	// DefaultMinLength はプレースホルダ値を除外するための既定の最小長。
	DefaultMinLength = 3
)

// CandidateKeys は画像が格納されうるキー名。先頭から順に評価する。
var CandidateKeys = []string{
	"photo",
	"userphoto",
	"avatar",
	"profile_image",
	"profileImage",
	"image",
	"user_photo",
}

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]+$`)

var whitespace = strings.NewReplacer(" ", "", "\n", "", "\r", "", "\t", "")

// DecodeFailureRecorder はデコード失敗の記録先。
type DecodeFailureRecorder interface {
	RecordImageDecodeFailure()
}

// Codec は画像フィールドの正規化を行う。
// 状態を持たないため複数goroutineから同時に利用できる。
type Codec struct {
	minLength int
	logger    *slog.Logger
	recorder  DecodeFailureRecorder
}

// NewCodec はCodecを生成する。minLengthが0以下の場合はDefaultMinLengthを使用する。
// recorderはnilでもよい。
func NewCodec(minLength int, logger *slog.Logger, recorder DecodeFailureRecorder) *Codec {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Codec{minLength: minLength, logger: logger, recorder: recorder}
}

// ResolveImage はレコードから画像参照を取り出す。
// 該当キーが無い場合やデコードに失敗した場合はfalseを返す。
// エラーは呼び出し元に返さず、呼び出し元はプレースホルダ画像にフォールバックする。
func (c *Codec) ResolveImage(record map[string]any) (string, bool) {
	raw, ok := c.pick(record)
	if !ok {
		return "", false
	}
	return c.Normalize(raw)
}

// ResolveOr はResolveImageの結果、または画像が無い場合にplaceholderを返す。
func (c *Codec) ResolveOr(record map[string]any, placeholder string) string {
	if ref, ok := c.ResolveImage(record); ok {
		return ref
	}
	return placeholder
}

// Normalize は単一の画像値をdata URIに変換する。
func (c *Codec) Normalize(value string) (string, bool) {
	if strings.HasPrefix(value, "data:image") {
		return value, true
	}

	// 二重エンコードされたJSON文字列を展開する
	var unquoted string
	if err := json.Unmarshal([]byte(value), &unquoted); err == nil {
		value = unquoted
	}

	value = trimQuotes(value)
	compact := whitespace.Replace(value)

	if isHex(compact) {
		b, err := hex.DecodeString(compact)
		if err != nil {
			c.logger.Debug("16進画像データのデコードに失敗しました",
				slog.String("error", err.Error()),
			)
			if c.recorder != nil {
				c.recorder.RecordImageDecodeFailure()
			}
			return "", false
		}
		return DataURIPrefix + base64.StdEncoding.EncodeToString(b), true
	}

	return DataURIPrefix + value, true
}

// ResolveField はkeysに指定したキーだけを対象に画像を解決する。
// 投稿画像と作成者アバターのように、同じレコード内で用途の違う画像を区別する場合に使う。
func (c *Codec) ResolveField(record map[string]any, keys ...string) (string, bool) {
	raw, ok := c.pickFrom(record, keys)
	if !ok {
		return "", false
	}
	return c.Normalize(raw)
}

// pick はCandidateKeysの順に、最小長を超える文字列値を探す。
func (c *Codec) pick(record map[string]any) (string, bool) {
	return c.pickFrom(record, CandidateKeys)
}

func (c *Codec) pickFrom(record map[string]any, keys []string) (string, bool) {
	if record == nil {
		return "", false
	}
	for _, key := range keys {
		s, ok := record[key].(string)
		if ok && len(s) > c.minLength {
			return s, true
		}
	}
	return "", false
}

func trimQuotes(s string) string {
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if len(s) > 0 && (s[len(s)-1] == '"' || s[len(s)-1] == '\'') {
		s = s[:len(s)-1]
	}
	return s
}

// isHex は偶数長の16進文字列かを判定する。
func isHex(s string) bool {
	return len(s) > 0 && len(s)%2 == 0 && hexPattern.MatchString(s)
}
