// Package event はストリームイベントのパース機能を提供する。
// 各プラットフォームのパーサーは1つの生ペイロードをBriefItemのリストと
// イベントメタデータに変換する純粋関数であり、I/Oを行わない。
package event

import (
	"encoding/json"

	"github.com/hitoshi/favepipe/internal/model"
)

// envelope はストリームイベントの共通外形を表す。
// プラグインのRPC結果は payload.result.data 配下に格納され、
// 差分追加分は data.added.data、全量は data.data に入る。
type envelope struct {
	BatchID string `json:"batch_id"`
	Params  struct {
		CollectionID string `json:"collection_id"`
	} `json:"params"`
	Payload struct {
		Result struct {
			Success bool `json:"success"`
			Data    struct {
				Added struct {
					Data []json.RawMessage `json:"data"`
				} `json:"added"`
				Data []json.RawMessage `json:"data"`
			} `json:"data"`
		} `json:"result"`
	} `json:"payload"`
}

// decodeEnvelope は生ペイロードをenvelopeにデコードする。
// JSONとして不正、または外形が想定と異なる場合はMalformedEventErrorを返す。
func decodeEnvelope(platform model.Platform, raw []byte) (*envelope, error) {
	if len(raw) == 0 {
		return nil, model.NewMalformedEventError(platform, "ペイロードが空です")
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, model.NewMalformedEventError(platform, err.Error())
	}

	return &env, nil
}

// flexID は文字列または数値のどちらでも届くID値を表す。
// プラグインによってIDの型が揺れるため、両方を受理して文字列に正規化する。
type flexID string

// UnmarshalJSON はJSONの文字列・数値いずれもflexIDとして受理する。
func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

// String は正規化済みのID文字列を返す。
func (f flexID) String() string {
	return string(f)
}

// rawItems は差分追加分を優先し、なければ全量を返す。
// result.successがfalseの場合は空を返す（エラーではない）。
func (e *envelope) rawItems() []json.RawMessage {
	if !e.Payload.Result.Success {
		return nil
	}
	if len(e.Payload.Result.Data.Added.Data) > 0 {
		return e.Payload.Result.Data.Added.Data
	}
	return e.Payload.Result.Data.Data
}
