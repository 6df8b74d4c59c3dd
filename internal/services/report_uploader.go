package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"stockipv/server/internal/logger"
)

// SFTPConfig параметры сервера выгрузки отчетов
type SFTPConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	RemoteDir string
}

// RemoteDir каталог на удаленном сервере, куда пишутся файлы
type RemoteDir interface {
	MkdirAll(dir string) error
	Create(name string) (io.WriteCloser, error)
	Close() error
}

// ReportUploader выгружает Excel-отчет закрытой смены на SFTP
type ReportUploader struct {
	reports   *ReportService
	remoteDir string
	dial      func() (RemoteDir, error)
}

// NewReportUploader создает выгрузку через SFTP с парольной авторизацией
func NewReportUploader(reports *ReportService, cfg SFTPConfig) *ReportUploader {
	return &ReportUploader{
		reports:   reports,
		remoteDir: cfg.RemoteDir,
		dial:      func() (RemoteDir, error) { return dialSFTP(cfg) },
	}
}

// Publish реагирует только на закрытие смены
func (u *ReportUploader) Publish(ctx context.Context, ev TurnEvent) error {
	if ev.Type != EventTurnClosed || ev.Turn == nil {
		return nil
	}
	rep, err := u.reports.ReportFor(ctx, ev.Turn)
	if err != nil {
		return err
	}
	data, err := u.reports.ExportXLSX(rep)
	if err != nil {
		return err
	}
	name, err := u.upload(reportFileName(rep.Name, ev.At), data)
	if err != nil {
		return err
	}
	logger.WithTurn(ev.TurnID, ev.Name).Infof("📤 Отчет смены выгружен: %s", name)
	return nil
}

func (u *ReportUploader) upload(fileName string, data []byte) (string, error) {
	dir, err := u.dial()
	if err != nil {
		return "", fmt.Errorf("ошибка подключения к SFTP: %w", err)
	}
	defer dir.Close()

	if u.remoteDir != "" {
		if err := dir.MkdirAll(u.remoteDir); err != nil {
			return "", fmt.Errorf("ошибка создания каталога %s: %w", u.remoteDir, err)
		}
	}
	full := path.Join(u.remoteDir, fileName)
	w, err := dir.Create(full)
	if err != nil {
		return "", fmt.Errorf("ошибка создания файла %s: %w", full, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("ошибка записи файла %s: %w", full, err)
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return full, nil
}

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_")

func reportFileName(turnName string, at time.Time) string {
	return fmt.Sprintf("%s_%s.xlsx", fileNameReplacer.Replace(turnName), at.Format("20060102_150405"))
}

type sftpDir struct {
	client *sftp.Client
	conn   *ssh.Client
}

func dialSFTP(cfg SFTPConfig) (RemoteDir, error) {
	sshConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: []ssh.AuthMethod{
			ssh.Password(cfg.Password),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	sshConn, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), sshConfig)
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		sshConn.Close()
		return nil, err
	}
	return &sftpDir{client: sftpClient, conn: sshConn}, nil
}

func (d *sftpDir) MkdirAll(dir string) error { return d.client.MkdirAll(dir) }

func (d *sftpDir) Create(name string) (io.WriteCloser, error) { return d.client.Create(name) }

func (d *sftpDir) Close() error {
	d.client.Close()
	return d.conn.Close()
}
