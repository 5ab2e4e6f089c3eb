package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"

	"github.com/wtmux/wtmux/internal/wmerr"
)

// GuestEnv is the set of environment variables the supervisor injects
// into the sandboxed shell and the guest library reads back.
type GuestEnv struct {
	Enabled bool
	Host    string
	Port    string
	Token   string
}

// ReadGuestEnv detects whether the current process is running inside a
// sandbox by checking GUEST=1, and if so returns the connection details
// for calling back to the host.
func ReadGuestEnv() GuestEnv {
	if os.Getenv("GUEST") != "1" {
		return GuestEnv{}
	}
	return GuestEnv{
		Enabled: true,
		Host:    os.Getenv("RPC_HOST"),
		Port:    os.Getenv("RPC_PORT"),
		Token:   os.Getenv("RPC_TOKEN"),
	}
}

// Call issues a single request over a fresh connection to addr
// ("host:port") and returns the decoded response.
func Call(addr, token string, op Op) (Response, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return Response{}, wmerr.Wrap(wmerr.RPCIO, "dialing rpc host", err)
	}
	defer conn.Close()

	req := Request{Token: token, Op: op}
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, wmerr.Wrap(wmerr.RPCIO, "encoding rpc request", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return Response{}, wmerr.Wrap(wmerr.RPCIO, "writing rpc request", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Response{}, wmerr.Wrap(wmerr.RPCIO, "reading rpc response", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, wmerr.Wrap(wmerr.RPCDecode, "decoding rpc response", err)
	}
	return resp, nil
}

// NotifySound asks the host to play a notification sound, raising if the
// response is not Ok.
func NotifySound(env GuestEnv, soundPath string) error {
	if !env.Enabled {
		return fmt.Errorf("rpc: not running inside a sandbox (GUEST != 1)")
	}
	addr := fmt.Sprintf("%s:%s", env.Host, env.Port)
	resp, err := Call(addr, env.Token, Op{Kind: KindNotify, Sound: &SoundPayload{Args: []string{soundPath}}})
	if err != nil {
		return err
	}
	if !resp.IsOk() {
		return fmt.Errorf("rpc: notify failed: %s", resp.ErrorMessage())
	}
	return nil
}
