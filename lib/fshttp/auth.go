package fshttp

import "bytes"

var authBufs = [][]byte{
	[]byte("Authorization: "),
	[]byte("X-Auth-Token: "),
}

// cleanAuth masks the value of one authBuf header within the first 4k
func cleanAuth(buf, authBuf []byte) []byte {
	n := 4096
	if len(buf) < n {
		n = len(buf)
	}
	i := bytes.Index(buf[:n], authBuf)
	if i < 0 {
		return buf
	}
	i += len(authBuf)
	// Overwrite the next 4 chars with 'X'
	for j := 0; i < len(buf) && j < 4; j++ {
		if buf[i] == '\n' {
			break
		}
		buf[i] = 'X'
		i++
	}
	// Snip out to the next '\n'
	j := bytes.IndexByte(buf[i:], '\n')
	if j < 0 {
		return buf[:i]
	}
	n = copy(buf[i:], buf[i+j:])
	return buf[:i+n]
}

// cleanAuths gets rid of all the possible Auth headers
func cleanAuths(buf []byte) []byte {
	for _, authBuf := range authBufs {
		buf = cleanAuth(buf, authBuf)
	}
	return buf
}

// cleanQueryAuth masks the session token passed as the "auth" query
// parameter so it never reaches the debug log
func cleanQueryAuth(buf []byte) []byte {
	key := []byte("auth=")
	for start := 0; ; {
		i := bytes.Index(buf[start:], key)
		if i < 0 {
			return buf
		}
		i += start
		if i > 0 && buf[i-1] != '?' && buf[i-1] != '&' {
			start = i + len(key)
			continue
		}
		i += len(key)
		for i < len(buf) && buf[i] != '&' && buf[i] != ' ' && buf[i] != '\n' && buf[i] != '\r' {
			buf[i] = 'X'
			i++
		}
		start = i
	}
}
