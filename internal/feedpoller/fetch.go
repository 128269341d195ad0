package feedpoller

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// download fetches a feed URL (http, https or ftp) into dest.
func download(ctx context.Context, rawURL, dest string) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, eris.Wrapf(err, "feedpoller: parse url %s", rawURL)
	}

	var body io.ReadCloser
	switch u.Scheme {
	case "http", "https":
		body, err = httpDownload(ctx, rawURL)
	case "ftp":
		body, err = ftpDownload(ctx, u)
	default:
		return 0, eris.Errorf("feedpoller: unsupported scheme %q", u.Scheme)
	}
	if err != nil {
		return 0, err
	}
	defer body.Close() //nolint:errcheck

	file, err := os.Create(dest)
	if err != nil {
		return 0, eris.Wrap(err, "feedpoller: create download file")
	}
	defer file.Close() //nolint:errcheck

	n, err := io.Copy(file, body)
	if err != nil {
		return n, eris.Wrap(err, "feedpoller: write download file")
	}

	zap.L().Debug("feed file downloaded",
		zap.String("component", "feedpoller"),
		zap.String("url", rawURL),
		zap.Int64("bytes", n),
	)
	return n, nil
}

func httpDownload(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "feedpoller: create request")
	}
	req.Header.Set("User-Agent", "tile-engine/1.0")

	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "feedpoller: fetch %s", rawURL)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, eris.Errorf("feedpoller: status %d from %s", resp.StatusCode, rawURL)
	}
	return resp.Body, nil
}

// ftpConnReader couples an FTP response to its connection so closing the
// reader also disconnects.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) { return r.resp.Read(p) }

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "feedpoller: close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "feedpoller: quit ftp connection")
	}
	return nil
}

func ftpDownload(ctx context.Context, u *url.URL) (io.ReadCloser, error) {
	if u.Path == "" {
		return nil, eris.Errorf("feedpoller: empty path in ftp url %s", u)
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(30*time.Second), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrapf(err, "feedpoller: ftp dial %s", host)
	}
	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "feedpoller: ftp login")
	}

	resp, err := conn.Retr(u.Path)
	if err != nil {
		_ = conn.Quit()
		return nil, eris.Wrapf(err, "feedpoller: ftp retrieve %s", u.Path)
	}
	return &ftpConnReader{resp: resp, conn: conn}, nil
}
