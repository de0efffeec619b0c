package supabase

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// postgrestNoRowsCode は単一行取得で該当行がなかった場合のPostgRESTエラーコード。
const postgrestNoRowsCode = "PGRST116"

// APIError はSupabaseが返したエラーレスポンス。
// Error()はサーバーのメッセージをそのまま返す。
type APIError struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return e.Message
}

// HTTPStatus はレスポンスのHTTPステータスコードを返す。
func (e *APIError) HTTPStatus() int {
	return e.Status
}

// errorBody はGoTrueとPostgRESTのエラーボディの和集合。
type errorBody struct {
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
	Error            string          `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

// parseAPIError はエラーレスポンスを*APIErrorに変換する。
// ボディがJSONでない場合はステータス文言をメッセージにする。
func parseAPIError(status int, raw []byte) *APIError {
	apiErr := &APIError{Status: status}

	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		apiErr.Message = http.StatusText(status)
		return apiErr
	}

	for _, m := range []string{body.Msg, body.ErrorDescription, body.Message, body.Error} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}

	// GoTrueの旧バージョンはcodeにHTTPステータスの数値を入れるため、文字列のみ採用する
	var code string
	if len(body.Code) > 0 && json.Unmarshal(body.Code, &code) == nil && code != "" {
		apiErr.Code = code
	}
	if body.ErrorCode != "" {
		apiErr.Code = body.ErrorCode
	}
	if apiErr.Code == "" {
		apiErr.Code = body.Error
	}
	return apiErr
}

// isRejected はサーバーが認証情報を拒否したこと（401/403/404）を表すかを返す。
func isRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// isClientError は再試行しても結果が変わらない4xxエラーかを返す。
// 429は時間をおけば成功しうるため含めない。
func isClientError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}
