package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/owenthereal/ptyhost/host"
	"github.com/owenthereal/ptyhost/host/api"
	"github.com/owenthereal/ptyhost/metrics"
)

const maxRequestSize = 1 << 20

type argumentError struct {
	err error
}

func (e *argumentError) Error() string { return fmt.Sprintf("invalid arguments: %s", e.err) }
func (e *argumentError) Unwrap() error { return e.err }

type unknownCommandError struct {
	command string
}

func (e *unknownCommandError) Error() string { return fmt.Sprintf("unknown command %q", e.command) }

type invokeHandler struct {
	session Session
	inst    *metrics.Instruments
	logger  *slog.Logger
}

func (h *invokeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer metrics.MeasureSince(h.inst.InvokeDuration, time.Now())

	command := api.CanonicalCommand(r.PathValue("command"))
	logger := h.logger.With("command", command)

	resp, err := h.invoke(command, http.MaxBytesReader(w, r.Body, maxRequestSize))
	if err != nil {
		h.inst.InvokeErrors.Add(1)

		status, kind := errorStatus(err)
		if status >= http.StatusInternalServerError {
			logger.Error("invoke failed", "kind", kind, "error", err)
		} else {
			logger.Debug("invoke rejected", "kind", kind, "error", err)
		}

		writeError(w, status, kind, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *invokeHandler) invoke(command string, body io.Reader) (any, error) {
	switch command {
	case api.CommandCreateShell:
		var req api.CreateShellRequest
		if err := decodeRequest(body, &req); err != nil {
			return nil, err
		}

		if err := h.session.CreateShell(req.Directory); err != nil {
			return nil, err
		}
		h.inst.ShellsSpawned.Add(1)

		return api.Empty{}, nil

	case api.CommandWriteToPty:
		var req api.WriteRequest
		if err := decodeRequest(body, &req); err != nil {
			return nil, err
		}
		if err := req.Validate(); err != nil {
			return nil, &argumentError{err: err}
		}

		if err := h.session.Write([]byte(*req.Data)); err != nil {
			return nil, err
		}
		h.inst.BytesWritten.Add(float64(len(*req.Data)))

		return api.Empty{}, nil

	case api.CommandReadFromPty:
		b, err := h.session.DrainRead()
		if err != nil {
			return nil, err
		}

		var resp api.ReadResponse
		if len(b) > 0 {
			s := string(b)
			resp.Data = &s
			h.inst.BytesRead.Add(float64(len(b)))
		}

		return resp, nil

	case api.CommandResizePty:
		var req api.ResizeRequest
		if err := decodeRequest(body, &req); err != nil {
			return nil, err
		}
		if err := req.Validate(); err != nil {
			return nil, &argumentError{err: err}
		}

		if err := h.session.Resize(uint16(*req.Rows), uint16(*req.Cols)); err != nil {
			return nil, err
		}

		return api.Empty{}, nil
	}

	return nil, &unknownCommandError{command: command}
}

// decodeRequest decodes a JSON body into v. An empty body leaves v zero.
func decodeRequest(body io.Reader, v any) error {
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return &argumentError{err: err}
	}

	return nil
}

func errorStatus(err error) (int, string) {
	var (
		argErr     *argumentError
		unknownErr *unknownCommandError
		dirErr     *host.InvalidDirectoryError
		spawnErr   *host.SpawnError
		writeErr   *host.WriteError
		resizeErr  *host.ResizeError
		decodeErr  *host.DecodeError
		readErr    *host.ReadError
	)

	switch {
	case errors.As(err, &argErr):
		return http.StatusBadRequest, api.KindInvalidArgument
	case errors.As(err, &unknownErr):
		return http.StatusNotFound, api.KindUnknownCommand
	case errors.As(err, &dirErr):
		return http.StatusUnprocessableEntity, api.KindInvalidDirectory
	case errors.As(err, &spawnErr):
		return http.StatusInternalServerError, api.KindSpawn
	case errors.As(err, &writeErr):
		return http.StatusInternalServerError, api.KindWrite
	case errors.As(err, &resizeErr):
		return http.StatusInternalServerError, api.KindResize
	case errors.As(err, &decodeErr):
		return http.StatusInternalServerError, api.KindDecode
	case errors.As(err, &readErr):
		return http.StatusInternalServerError, api.KindRead
	}

	return http.StatusInternalServerError, api.KindInternal
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, api.ErrorResponse{
		Error: api.ErrorBody{Kind: kind, Message: msg},
	})
}
