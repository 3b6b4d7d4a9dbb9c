package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/campushub/internal/middleware"
	"github.com/hitoshi/campushub/internal/model"
)

// errTrailingData はリクエストボディに複数のJSON値が含まれる場合のエラー。
var errTrailingData = errors.New("request body must contain a single JSON value")

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層のエラーを統一エラーフォーマットに変換して書き込む。
// APIError以外のエラーは詳細をログにのみ記録し、500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	slog.Error("request failed",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	middleware.WriteInternalServerError(w)
}

// decodeJSONBody はリクエストボディをJSONとしてデコードする。
// ボディサイズの上限はルーターのRequestSizeミドルウェアで制限される。
// 1つ目の値の後ろに空白以外のデータが続く場合はエラーを返す。
func decodeJSONBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return err
	}

	err := dec.Decode(&struct{}{})
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return err
	}
	return errTrailingData
}

// notFound は未定義ルートに汎用の404を返す。
func notFound(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPIError(w, model.NewNotFoundError())
}

// methodNotAllowed は許可されていないメソッドに405を返す。
func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPIError(w, model.NewMethodNotAllowedError())
}
