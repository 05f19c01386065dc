package provisioning

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// CertLevel политика проверки сертификата сервера каталога.
type CertLevel int

const (
	// CertAcceptAll принимать любой сертификат.
	CertAcceptAll CertLevel = iota
	// CertVerify проверять цепочку и имя сервера.
	CertVerify
)

func (l CertLevel) String() string {
	if l == CertVerify {
		return "verify"
	}
	return "accept-all"
}

const (
	DefaultCCMCIPPort           = 8443
	DefaultCCMCIPPath           = "/ccmcip/Personalization"
	DefaultCCMCIPConnectTimeout = 9 * time.Second
	DefaultCCMCIPRequestTimeout = 30 * time.Second

	maxDeviceListSize = 4 << 20
)

// CCMCIPClient получает список устройств пользователя у CCMCIP сервиса.
type CCMCIPClient struct {
	port           int
	path           string
	connectTimeout time.Duration
	requestTimeout time.Duration
	rootCAs        *x509.CertPool
	log            *logrus.Entry
}

// CCMCIPOption настройка клиента.
type CCMCIPOption func(*CCMCIPClient)

// WithCCMCIPPort порт по умолчанию для серверов без явного порта.
func WithCCMCIPPort(port int) CCMCIPOption {
	return func(c *CCMCIPClient) { c.port = port }
}

func WithCCMCIPConnectTimeout(d time.Duration) CCMCIPOption {
	return func(c *CCMCIPClient) { c.connectTimeout = d }
}

func WithCCMCIPRequestTimeout(d time.Duration) CCMCIPOption {
	return func(c *CCMCIPClient) { c.requestTimeout = d }
}

// WithRootCAs корневые сертификаты для CertVerify. По умолчанию системные.
func WithRootCAs(pool *x509.CertPool) CCMCIPOption {
	return func(c *CCMCIPClient) { c.rootCAs = pool }
}

func WithCCMCIPLogger(log *logrus.Entry) CCMCIPOption {
	return func(c *CCMCIPClient) { c.log = log }
}

// NewCCMCIPClient создаёт клиента с таймаутом соединения 9 секунд.
func NewCCMCIPClient(opts ...CCMCIPOption) *CCMCIPClient {
	c := &CCMCIPClient{
		port:           DefaultCCMCIPPort,
		path:           DefaultCCMCIPPath,
		connectTimeout: DefaultCCMCIPConnectTimeout,
		requestTimeout: DefaultCCMCIPRequestTimeout,
		log:            logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.WithField("component", "CCMCIPClient")
	return c
}

type getDevicesRequest struct {
	XMLName xml.Name `xml:"getDevices"`
	User    string   `xml:"user"`
}

// FetchDevices запрашивает POST https://server:8443/ccmcip/Personalization
// с basic auth и разбирает список устройств.
//
// Ответ 200 разбирается ParseDeviceList, 401 даёт DeviceListAuthFailed,
// любой другой статус и сетевые ошибки дают DeviceListTimeout. Отказ
// проверки сертификата при CertVerify даёт DeviceListCertRejected.
func (c *CCMCIPClient) FetchDevices(ctx context.Context, server, user, password string, level CertLevel) (DeviceMap, error) {
	endpoint := "https://" + c.hostPort(server) + c.path
	log := c.log.WithFields(logrus.Fields{"server": server, "user": user, "cert_level": level})

	body, err := xml.Marshal(getDevicesRequest{User: user})
	if err != nil {
		return nil, fmt.Errorf("ошибка формирования запроса getDevices: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newDeviceListError(DeviceListTimeout, server, "некорректный адрес сервера", err)
	}
	req.SetBasicAuth(user, password)
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")

	client := c.httpClient(server, level)
	defer client.CloseIdleConnections()

	log.Debug("запрос списка устройств")
	resp, err := client.Do(req)
	if err != nil {
		if isCertificateError(err) {
			log.WithError(err).Warn("сертификат сервера отклонён")
			return nil, newDeviceListError(DeviceListCertRejected, server, "сертификат сервера отклонён", err)
		}
		log.WithError(err).Warn("сервер каталога недоступен")
		return nil, newDeviceListError(DeviceListTimeout, server, "сервер недоступен", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		log.Warn("сервер каталога отклонил учётные данные")
		return nil, newDeviceListError(DeviceListAuthFailed, server, "учётные данные отклонены", nil)
	default:
		log.WithField("status", resp.StatusCode).Warn("неожиданный HTTP статус сервера каталога")
		return nil, newDeviceListError(DeviceListTimeout, server, "HTTP статус "+strconv.Itoa(resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDeviceListSize))
	if err != nil {
		return nil, newDeviceListError(DeviceListTimeout, server, "ошибка чтения ответа", err)
	}

	devices, err := ParseDeviceList(data)
	if err != nil {
		var dle *DeviceListError
		if errors.As(err, &dle) {
			dle.Server = server
		}
		log.WithError(err).Warn("не удалось разобрать список устройств")
		return nil, err
	}
	log.WithField("devices", len(devices)).Info("получен список устройств")
	return devices, nil
}

func (c *CCMCIPClient) hostPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, strconv.Itoa(c.port))
}

func (c *CCMCIPClient) httpClient(server string, level CertLevel) *http.Client {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if level == CertAcceptAll {
		tlsConfig.InsecureSkipVerify = true
	} else {
		tlsConfig.RootCAs = c.rootCAs
		if host, _, err := net.SplitHostPort(c.hostPort(server)); err == nil {
			tlsConfig.ServerName = host
		}
	}
	return &http.Client{
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: c.connectTimeout}).DialContext,
			TLSHandshakeTimeout: c.connectTimeout,
			TLSClientConfig:     tlsConfig,
		},
	}
}

func isCertificateError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert)
}
