package config

import (
	"errors"
	"flag"
	"net"
	"regexp"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DBUrl       string
	TokenSecret string
	TokenTTL    time.Duration
	Debug       bool

	Mail Mail
}

// Mail carries the full outbound mail configuration. It is handed to the
// notification dispatcher explicitly; nothing reads mail settings from
// globals.
type Mail struct {
	SMTPHost    string
	SMTPPort    uint
	Username    string
	Password    string
	FromAddress string
	FromName    string
	StaffEmail  string
	SendTimeout time.Duration
}

func ParseFlags() (cfg Config, err error) {
	var host string
	flag.StringVar(&host, "host", "0.0.0.0", "listen host name (default 0.0.0.0)")
	var port uint
	flag.UintVar(&port, "port", 80, "listen port number (default 80)")
	flag.StringVar(&cfg.DBUrl, "db-url", "feedback.sqlite", "path to SQLite3 DB file (default feedback.sqlite)")
	flag.StringVar(&cfg.TokenSecret, "token-secret", "", "secret key for token encryption and decryption")
	var ttl uint
	flag.UintVar(&ttl, "token-ttl", 120, "token TTL in seconds (default 120)")
	flag.BoolVar(&cfg.Debug, "debug", false, "log at DEBUG level")

	flag.StringVar(&cfg.Mail.SMTPHost, "smtp-host", "smtp.gmail.com", "SMTP server host")
	flag.UintVar(&cfg.Mail.SMTPPort, "smtp-port", 587, "SMTP server port")
	flag.StringVar(&cfg.Mail.Username, "smtp-user", "", "SMTP username")
	flag.StringVar(&cfg.Mail.Password, "smtp-password", "", "SMTP password or app password")
	flag.StringVar(&cfg.Mail.FromAddress, "mail-from", "", "sender address for outbound mail (default smtp-user)")
	flag.StringVar(&cfg.Mail.FromName, "mail-from-name", "TAU Feedback Team", "display name for outbound mail")
	flag.StringVar(&cfg.Mail.StaffEmail, "staff-email", "", "mailbox receiving new-submission alerts")
	var sendTimeout uint
	flag.UintVar(&sendTimeout, "mail-timeout", 30, "outbound mail timeout in seconds (default 30)")
	flag.Parse()

	cfg.Addr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	cfg.TokenTTL = time.Duration(ttl) * time.Second
	cfg.Mail.SendTimeout = time.Duration(sendTimeout) * time.Second

	if cfg.Mail.FromAddress == "" {
		cfg.Mail.FromAddress = cfg.Mail.Username
	}
	if cfg.Mail.StaffEmail == "" {
		cfg.Mail.StaffEmail = cfg.Mail.Username
	}

	if cfg.TokenSecret == "" {
		err = errors.New("missing parameter -token-secret")
	}

	return
}

func (cfg Config) Url() (url string) {
	url = cfg.Addr
	url = regexp.MustCompile(`^0.0.0.0`).ReplaceAllString(url, "localhost")
	url = "http://" + url
	return
}
