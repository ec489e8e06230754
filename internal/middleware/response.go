package middleware

import (
	"net/http"

	"github.com/fabricviz/fabricviz-server/internal/httputil"
)

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}
