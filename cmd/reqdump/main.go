package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/Brownie44l1/keepalive-httpd/internal/headers"
	"github.com/Brownie44l1/keepalive-httpd/internal/pool"
	"github.com/Brownie44l1/keepalive-httpd/internal/request"
	"github.com/Brownie44l1/keepalive-httpd/internal/response"
)

// reqdump prints how the engine parses each request it receives, then
// answers with the same summary
func main() {
	addr := flag.String("addr", ":42069", "address to listen on")
	flag.Parse()

	reg, err := headers.NewDefaultRegistry(headers.DefaultCapacity)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer listener.Close()
	fmt.Printf("Listening on %s...\n", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			fmt.Println("Accept error:", err)
			continue
		}

		go handleConnection(conn, reg)
	}
}

func handleConnection(conn net.Conn, reg *headers.Registry) {
	defer conn.Close()

	buf := pool.GetBuffer(pool.SmallSize)
	defer pool.PutBuffer(buf)

	n, err := conn.Read(buf)
	if err != nil {
		fmt.Println("read error:", err)
		return
	}

	summary, err := dump(buf[:n], reg)
	fmt.Print(summary)

	status := response.StatusOK
	if err != nil {
		status = response.StatusBadRequest
	}
	w := response.NewWriter(conn)
	if err := w.WriteHead(response.Head{Status: status, ContentLength: int64(len(summary))}); err != nil {
		fmt.Println("write error:", err)
		return
	}
	if err := w.WriteBody([]byte(summary)); err != nil {
		fmt.Println("write error:", err)
	}
}

// dump describes the parse of one request, including how far it got on error
func dump(data []byte, reg *headers.Registry) (string, error) {
	params := headers.NewParams()
	req, err := request.Parse(data, reg, &params)

	out := "Request Line\n"
	out += fmt.Sprintf("Method: %s\n", req.Method)
	out += fmt.Sprintf("Target: %s\n", req.Target)
	out += "Connection\n"
	out += fmt.Sprintf("Keep-Alive: %t\n", params.KeepAlive)
	out += fmt.Sprintf("Timeout: %d\n", params.Timeout)
	out += fmt.Sprintf("Max: %d\n", params.Max)
	if err != nil {
		out += fmt.Sprintf("Error: %v\n", err)
	}
	return out, err
}
