// Package api serves an I2C bus over HTTP.
//
// Addresses and numbers in the query may be given in decimal or with a 0x
// prefix. Request and response bodies are raw bytes, except for /info and
// /scan which answer JSON.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"

	"github.com/BertoldVdb/twim/eeprom"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
)

// MaxBody is the largest request body and read length accepted.
const MaxBody = 65536

type API struct {
	mux *http.ServeMux
	bus i2c.Bus
}

const (
	ctBinary string = "application/octet-stream"
	ctJSON   string = "application/json"
)

// Info is the response of /info.
type Info struct {
	Name      string
	MaxTxSize int
}

func New(bus i2c.Bus) (*API, error) {
	mux := &http.ServeMux{}

	s := &API{
		mux: mux,
		bus: bus,
	}

	info := Info{Name: bus.String()}
	if l, ok := bus.(conn.Limits); ok {
		info.MaxTxSize = l.MaxTxSize()
	}

	infoJson, err := json.MarshalIndent(&info, "", "  ")
	if err != nil {
		return nil, err
	}

	mux.HandleFunc("/info", sendStatic(ctJSON, infoJson))
	mux.HandleFunc("/write", s.writeHandler)
	mux.HandleFunc("/read", s.readHandler)
	mux.HandleFunc("/writeread", s.writeReadHandler)
	mux.HandleFunc("/scan", s.scanHandler)
	mux.HandleFunc("/eeprom", s.eepromHandler)

	return s, nil
}

func sendStatic(contentType string, data []byte) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Write(data)
	}
}

type requestError struct {
	status int
	err    error
}

func (e *requestError) Error() string {
	return e.err.Error()
}

func badRequest(format string, params ...interface{}) error {
	return &requestError{status: http.StatusBadRequest, err: fmt.Errorf(format, params...)}
}

// sendError maps err to a status. Devices that do not acknowledge their
// address are reported as not found.
func sendError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		http.Error(w, err.Error(), reqErr.status)
	case eeprom.IsNack(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func queryUint(r *http.Request, key string, def string, max uint64) (uint64, error) {
	str := r.URL.Query().Get(key)
	if str == "" {
		str = def
	}
	if str == "" {
		return 0, badRequest("parameter '%s' is required", key)
	}

	v, err := strconv.ParseUint(str, 0, 64)
	if err != nil || v > max {
		return 0, badRequest("invalid value for '%s': %s", key, str)
	}
	return v, nil
}

func queryAddr(r *http.Request) (uint16, error) {
	v, err := queryUint(r, "addr", "", 0x7F)
	return uint16(v), err
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := ioutil.ReadAll(io.LimitReader(r.Body, MaxBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxBody {
		return nil, badRequest("request body too large")
	}
	return body, nil
}

func sendBinary(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", ctBinary)
	w.Write(data)
}

func (s *API) writeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	addr, err := queryAddr(r)
	if err != nil {
		sendError(w, err)
		return
	}

	input, err := readBody(r)
	if err != nil {
		sendError(w, err)
		return
	}

	if err := s.bus.Tx(addr, input, nil); err != nil {
		sendError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *API) readHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	addr, err := queryAddr(r)
	if err != nil {
		sendError(w, err)
		return
	}
	n, err := queryUint(r, "n", "", MaxBody)
	if err != nil {
		sendError(w, err)
		return
	}

	output := make([]byte, n)
	if err := s.bus.Tx(addr, nil, output); err != nil {
		sendError(w, err)
		return
	}

	sendBinary(w, output)
}

func (s *API) writeReadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	addr, err := queryAddr(r)
	if err != nil {
		sendError(w, err)
		return
	}
	n, err := queryUint(r, "n", "", MaxBody)
	if err != nil {
		sendError(w, err)
		return
	}

	input, err := readBody(r)
	if err != nil {
		sendError(w, err)
		return
	}

	output := make([]byte, n)
	if err := s.bus.Tx(addr, input, output); err != nil {
		sendError(w, err)
		return
	}

	sendBinary(w, output)
}

// scanHandler probes every non-reserved 7-bit address with an empty write.
func (s *API) scanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	found := []uint16{}
	for addr := uint16(0x08); addr <= 0x77; addr++ {
		err := s.bus.Tx(addr, nil, nil)
		if err == nil {
			found = append(found, addr)
		} else if !eeprom.IsNack(err) {
			sendError(w, err)
			return
		}
	}

	result, err := json.Marshal(found)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ctJSON)
	w.Write(result)
}

// eepromHandler reads (GET) or writes (POST) a 24Cxx EEPROM. The device is
// described by addr, size (256) and page (8).
func (s *API) eepromHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" && r.Method != "POST" {
		http.Error(w, "Invalid method", http.StatusMethodNotAllowed)
		return
	}

	addr, err := queryAddr(r)
	if err != nil {
		sendError(w, err)
		return
	}
	size, err := queryUint(r, "size", "256", 2048)
	if err != nil {
		sendError(w, err)
		return
	}
	page, err := queryUint(r, "page", "8", 256)
	if err != nil {
		sendError(w, err)
		return
	}
	off, err := queryUint(r, "off", "0", size)
	if err != nil {
		sendError(w, err)
		return
	}

	dev, err := eeprom.New(eeprom.FromI2C(s.bus), uint8(addr), eeprom.Config{Size: int(size), PageSize: int(page)})
	if err != nil {
		sendError(w, badRequest("%v", err))
		return
	}

	if r.Method == "POST" {
		input, err := readBody(r)
		if err != nil {
			sendError(w, err)
			return
		}
		if off+uint64(len(input)) > size {
			sendError(w, badRequest("write of %d bytes at %d exceeds the device", len(input), off))
			return
		}

		if _, err := dev.WriteAt(input, int64(off)); err != nil {
			sendError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
		return
	}

	n, err := queryUint(r, "n", strconv.FormatUint(size-off, 10), size)
	if err != nil {
		sendError(w, err)
		return
	}

	output := make([]byte, n)
	rd, err := dev.ReadAt(output, int64(off))
	if err != nil && err != io.EOF {
		sendError(w, err)
		return
	}

	sendBinary(w, output[:rd])
}

func (s *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
