package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/lox/climatewall/internal/fileutil"
	"github.com/lox/climatewall/internal/metrics"
)

const ftpTimeout = 30 * time.Second

// FTPConfig locates the server publishing OSO feed products.
type FTPConfig struct {
	Host      string // host:port
	User      string
	Password  string
	RemoteDir string
}

type ftpConn interface {
	Retr(path string) (io.ReadCloser, error)
	Quit() error
}

type serverConn struct{ *ftp.ServerConn }

func (c serverConn) Retr(path string) (io.ReadCloser, error) {
	return c.ServerConn.Retr(path)
}

func dialFTP(ctx context.Context, cfg FTPConfig) (ftpConn, error) {
	conn, err := ftp.Dial(cfg.Host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(ftpTimeout))
	if err != nil {
		return nil, fmt.Errorf("ftp dial: %w", err)
	}

	user, pass := cfg.User, cfg.Password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return serverConn{conn}, nil
}

// FeedSyncer downloads feed products into the local feed directory where
// the extremes tracker reads them.
type FeedSyncer struct {
	cfg     FTPConfig
	feedDir string
	dial    func(ctx context.Context, cfg FTPConfig) (ftpConn, error)
	rec     *Recorder
	log     *zap.SugaredLogger
}

func NewFeedSyncer(cfg FTPConfig, feedDir string, rec *Recorder, log *zap.SugaredLogger) *FeedSyncer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FeedSyncer{cfg: cfg, feedDir: feedDir, dial: dialFTP, rec: rec, log: log.Named("feeds")}
}

// Sync fetches every distinct product named in feeds. A product that fails
// to download leaves the previous local copy in place. It returns the number
// of files written.
func (s *FeedSyncer) Sync(ctx context.Context, feeds map[string]string) (int, error) {
	if s.cfg.Host == "" {
		s.log.Info("feed sync skipped: no ftp host configured")
		return 0, nil
	}

	products := distinctProducts(feeds)
	if len(products) == 0 {
		return 0, nil
	}

	conn, err := s.dial(ctx, s.cfg)
	if err != nil {
		return 0, err
	}
	defer conn.Quit()

	if err := os.MkdirAll(s.feedDir, 0o755); err != nil {
		return 0, fmt.Errorf("create feed dir: %w", err)
	}

	var errs []error
	synced := 0
	for _, product := range products {
		if err := ctx.Err(); err != nil {
			return synced, err
		}
		err := s.rec.Track("ftp", product, func() ([]byte, int, error) {
			return s.fetch(conn, product)
		})
		if err != nil {
			s.log.Warnw("feed download failed", "product", product, "error", err)
			errs = append(errs, err)
			continue
		}
		synced++
		metrics.FeedFilesSynced.Inc()
	}

	s.log.Infof("synced %d/%d feed products", synced, len(products))
	return synced, errors.Join(errs...)
}

// fetch downloads one product. It returns the body read so far and the
// number of report lines in it.
func (s *FeedSyncer) fetch(conn ftpConn, product string) ([]byte, int, error) {
	resp, err := conn.Retr(path.Join(s.cfg.RemoteDir, product))
	if err != nil {
		return nil, 0, fmt.Errorf("ftp retr %s: %w", product, err)
	}
	body, err := io.ReadAll(resp)
	resp.Close()
	if err != nil {
		return body, 0, fmt.Errorf("read %s: %w", product, err)
	}
	if len(body) == 0 {
		return nil, 0, fmt.Errorf("%s: empty product", product)
	}

	if err := fileutil.WriteAtomic(filepath.Join(s.feedDir, product), body); err != nil {
		return body, 0, err
	}
	return body, bytes.Count(body, []byte("\n")), nil
}

func distinctProducts(feeds map[string]string) []string {
	seen := make(map[string]bool, len(feeds))
	var products []string
	for _, p := range feeds {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		products = append(products, p)
	}
	sort.Strings(products)
	return products
}
