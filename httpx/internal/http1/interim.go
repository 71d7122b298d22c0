package http1

import "bufio"

// WriteContinue writes an interim 100 Continue response.
func WriteContinue(bw *bufio.Writer, proto string) error {
	if proto == "" {
		proto = "HTTP/1.1"
	}
	_, err := bw.WriteString(proto + " 100 Continue\r\n\r\n")
	return err
}
