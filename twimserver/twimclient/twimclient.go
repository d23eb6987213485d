// Package twimclient talks to a twimserver bus. A Client implements
// i2c.BusCloser, so periph device drivers can use a remote TWIM.
package twimclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
)

// ErrNack is returned when the server reports that no device acknowledged
// the address.
var ErrNack = errors.New("twimclient: device not found (NACK)")

type Client struct {
	client http.Client
	url    string

	info struct {
		Name      string
		MaxTxSize int
	}
}

// New connects to the bus at url, e.g. http://host:8067/0.
func New(url string) (*Client, error) {
	c := &Client{
		client: http.Client{
			Timeout: 10 * time.Second,
		},

		url: strings.TrimSuffix(url, "/"),
	}

	infoRaw, err := c.doReq("GET", "info", nil)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(infoRaw, &c.info); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) doReq(method string, endpoint string, body []byte) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewBuffer(body)
	}

	req, err := http.NewRequest(method, c.url+"/"+endpoint, rdr)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
	case http.StatusNotFound:
		return nil, ErrNack
	default:
		msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("request error %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	return ioutil.ReadAll(io.LimitReader(resp.Body, 65536))
}

func (c *Client) String() string {
	return c.info.Name
}

// Tx implements i2c.Bus with one request.
func (c *Client) Tx(addr uint16, w, r []byte) error {
	var out []byte
	var err error

	switch {
	case len(r) == 0:
		_, err = c.doReq("POST", fmt.Sprintf("write?addr=0x%02x", addr), nonNil(w))
		return err
	case len(w) == 0:
		out, err = c.doReq("GET", fmt.Sprintf("read?addr=0x%02x&n=%d", addr, len(r)), nil)
	default:
		out, err = c.doReq("POST", fmt.Sprintf("writeread?addr=0x%02x&n=%d", addr, len(r)), w)
	}
	if err != nil {
		return err
	}

	if len(out) != len(r) {
		return fmt.Errorf("short read: %d of %d bytes", len(out), len(r))
	}
	copy(r, out)
	return nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// SetSpeed is not supported remotely, the server owns the bus clock.
func (c *Client) SetSpeed(f physic.Frequency) error {
	return errors.New("twimclient: speed is set by the server")
}

// Scan returns the addresses that answer on the remote bus.
func (c *Client) Scan() ([]uint16, error) {
	raw, err := c.doReq("GET", "scan", nil)
	if err != nil {
		return nil, err
	}

	var found []uint16
	return found, json.Unmarshal(raw, &found)
}

// MaxTxSize implements conn.Limits.
func (c *Client) MaxTxSize() int {
	return c.info.MaxTxSize
}

func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

var _ i2c.BusCloser = &Client{}
var _ conn.Limits = &Client{}
