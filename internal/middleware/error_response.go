package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/AmilcarArmmand/Multithreaded-Distributed-Programming-Capstone/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// JSONを返すエンドポイント（/admin/stats、/dev/db-stats等）で使用する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please try again in a few moments.",
	})
}

// WriteStatusError はステータスコードに対応する定義済みエラーを書き込む。
// HTMLの代わりにJSONを要求するクライアント向けのエラーページとして使う。
func WriteStatusError(w http.ResponseWriter, status int) {
	switch status {
	case http.StatusForbidden:
		WriteErrorResponse(w, status, model.NewForbiddenError())
	case http.StatusNotFound:
		WriteErrorResponse(w, status, model.NewNotFoundError())
	case http.StatusServiceUnavailable:
		WriteStorageUnavailable(w)
	default:
		WriteInternalServerError(w)
	}
}

// WantsJSON はAcceptヘッダーがHTMLよりJSONを求めているかを返す。
func WantsJSON(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// WriteStorageUnavailable はストレージ到達不可の統一レスポンスを書き込む。
// 接続先などの詳細は含めない。
func WriteStorageUnavailable(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStorageUnavailableError())
}
