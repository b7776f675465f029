// Package stdio corre el router sobre stdin/stdout: un request JSON-RPC por
// línea de entrada, una respuesta por línea de salida. Los logs van por
// stderr para no contaminar el canal de datos.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/dropDatabas3/adbridge/internal/mcp"
	"github.com/dropDatabas3/adbridge/internal/observability/logger"
)

const maxLine = 1 << 20

var errLineTooLong = errors.New("stdio: línea excede el máximo")

// Run procesa líneas hasta EOF o cancelación del contexto.
// Las líneas vacías se ignoran; cada línea no vacía produce exactamente
// una línea de respuesta, incluso ante JSON inválido o líneas que exceden
// maxLine (esas responden -32700 y el loop sigue).
func Run(ctx context.Context, srv *mcp.Server, in io.Reader, out io.Writer) error {
	r := bufio.NewReaderSize(in, 64*1024)
	enc := json.NewEncoder(out)

	logger.From(ctx).Info("stdio loop iniciado")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := readLine(r)
		if err == errLineTooLong {
			resp := mcp.Response{
				JSONRPC: "2.0",
				Error:   &mcp.RPCError{Code: -32700, Message: "línea demasiado larga"},
			}
			if encErr := enc.Encode(resp); encErr != nil {
				return encErr
			}
			continue
		}
		if err != nil && err != io.EOF {
			return err
		}

		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			if encErr := enc.Encode(srv.HandleRequest(ctx, trimmed)); encErr != nil {
				return encErr
			}
		}
		if err == io.EOF {
			logger.From(ctx).Info("stdio loop terminado")
			return nil
		}
	}
}

// readLine junta una línea completa respetando maxLine. Si la línea excede
// el tope, descarta el resto hasta el newline y retorna errLineTooLong.
func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxLine {
			for err == bufio.ErrBufferFull {
				_, err = r.ReadSlice('\n')
			}
			if err != nil && err != io.EOF {
				return nil, err
			}
			return nil, errLineTooLong
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		// err es nil (newline encontrado), io.EOF, o un error real de IO
		return line, err
	}
}
