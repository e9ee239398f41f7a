package ingest

import (
	"context"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// FTPOptions configures the FTP feed fetcher.
type FTPOptions struct {
	Timeout time.Duration
}

// FTPFetcher downloads remote feeds over FTP so file-based adapters can
// parse them locally. Some open-data portals publish shapefile archives
// only over FTP.
type FTPFetcher struct {
	opts FTPOptions
}

// NewFTPFetcher creates a new FTPFetcher with the given options.
func NewFTPFetcher(opts FTPOptions) *FTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	return &FTPFetcher{opts: opts}
}

// parseFTPURL extracts host (with port) and path from an FTP URL.
func parseFTPURL(rawURL string) (host string, path string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", eris.Wrap(err, "parse ftp url")
	}
	if u.Scheme != "ftp" {
		return "", "", eris.Errorf("expected ftp scheme, got %q", u.Scheme)
	}

	host = u.Host
	if _, _, splitErr := net.SplitHostPort(host); splitErr != nil {
		host = net.JoinHostPort(host, "21")
	}

	path = u.Path
	if path == "" {
		return "", "", eris.New("empty path in ftp url")
	}

	return host, path, nil
}

// ftpConnReader wraps an FTP response and connection so that closing the
// reader also closes the FTP response and disconnects from the server.
type ftpConnReader struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (r *ftpConnReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpConnReader) Close() error {
	respErr := r.resp.Close()
	quitErr := r.conn.Quit()
	if respErr != nil {
		return eris.Wrap(respErr, "close ftp response")
	}
	if quitErr != nil {
		return eris.Wrap(quitErr, "quit ftp connection")
	}
	return nil
}

// Download connects to the FTP server, retrieves the file, and returns a
// reader. The caller must close the returned ReadCloser to release the FTP
// connection.
func (f *FTPFetcher) Download(ctx context.Context, ftpURL string) (io.ReadCloser, error) {
	host, path, err := parseFTPURL(ftpURL)
	if err != nil {
		return nil, err
	}

	zap.L().Debug("ftp: connecting", zap.String("host", host), zap.String("path", path))

	conn, err := ftp.Dial(host, ftp.DialWithTimeout(f.opts.Timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, eris.Wrap(err, "ftp dial")
	}

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit()
		return nil, eris.Wrap(err, "ftp login")
	}

	resp, err := conn.Retr(path)
	if err != nil {
		conn.Quit()
		return nil, eris.Wrapf(err, "ftp retrieve %s", path)
	}

	return &ftpConnReader{resp: resp, conn: conn}, nil
}

// FetchToFile downloads a remote feed into destDir and returns the local
// path, for adapters that need a file on disk rather than a stream.
func (f *FTPFetcher) FetchToFile(ctx context.Context, ftpURL, destDir string) (string, error) {
	rc, err := f.Download(ctx, ftpURL)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	_, remotePath, err := parseFTPURL(ftpURL)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, filepath.Base(remotePath))

	out, err := os.Create(dest)
	if err != nil {
		return "", eris.Wrapf(err, "ftp: create %s", dest)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		os.Remove(dest)
		return "", eris.Wrapf(err, "ftp: download %s", ftpURL)
	}
	return dest, nil
}

// Materialize resolves a source's local path: feeds with an FTP URL are
// downloaded into tempDir first, local feeds are returned as configured.
func Materialize(ctx context.Context, fetcher *FTPFetcher, spec SourceSpec, tempDir string) (SourceSpec, error) {
	if spec.URL == "" {
		return spec, nil
	}
	local, err := fetcher.FetchToFile(ctx, spec.URL, tempDir)
	if err != nil {
		return spec, eris.Wrapf(err, "ingest: fetch feed for %q", spec.Name)
	}
	spec.Path = local
	return spec, nil
}
