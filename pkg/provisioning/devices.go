package provisioning

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// DeviceInfo запись каталога устройств пользователя.
type DeviceInfo struct {
	Name        string `xml:"name"`
	Description string `xml:"description"`
	// Model описание модели, например "Cisco IP Communicator".
	Model string `xml:"model"`
}

// DeviceMap имя устройства -> описание.
type DeviceMap map[string]DeviceInfo

type devicesDoc struct {
	XMLName xml.Name     `xml:"devices"`
	Devices []deviceNode `xml:"device"`
}

type deviceNode struct {
	Name        *string `xml:"name"`
	Description *string `xml:"description"`
	Model       *string `xml:"model"`
}

// ParseDeviceList разбирает ответ каталога
// <devices><device><name/><description/><model/></device>...</devices>.
//
// Пустой ответ или одни пробелы дают DeviceListEmptyResponse. Ответ без
// корня <devices> или с неполной записью устройства даёт
// DeviceListParseFailed, если только в нём не найдена HTML страница
// "HTTP Status 401", тогда DeviceListAuthFailed.
func ParseDeviceList(body []byte) (DeviceMap, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, newDeviceListError(DeviceListEmptyResponse, "", "ответ содержит только пробелы", nil)
	}

	var doc devicesDoc
	if err := xml.Unmarshal(trimmed, &doc); err != nil {
		if embeddedAuthFailure(trimmed) {
			return nil, newDeviceListError(DeviceListAuthFailed, "", "в ответе найдена страница HTTP Status 401", nil)
		}
		return nil, newDeviceListError(DeviceListParseFailed, "", "ответ не содержит <devices>", err)
	}
	if len(doc.Devices) == 0 {
		return nil, newDeviceListError(DeviceListParseFailed, "", "в <devices> нет ни одного <device>", nil)
	}

	devices := make(DeviceMap, len(doc.Devices))
	for i, d := range doc.Devices {
		if d.Name == nil || d.Description == nil || d.Model == nil {
			return nil, newDeviceListError(DeviceListParseFailed, "", "неполная запись устройства #"+strconv.Itoa(i), nil)
		}
		name := strings.TrimSpace(*d.Name)
		devices[name] = DeviceInfo{
			Name:        name,
			Description: strings.TrimSpace(*d.Description),
			Model:       strings.TrimSpace(*d.Model),
		}
	}
	return devices, nil
}

// embeddedAuthFailure ищет в тексте (X)HTML документа фрагмент с
// "HTTP Status" и "401". Так отвечает контейнер сервлетов CUCM при
// неверном пароле вместо кода 401.
func embeddedAuthFailure(body []byte) bool {
	z := html.NewTokenizer(bytes.NewReader(body))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return false
		case html.TextToken:
			text := string(z.Text())
			if i := strings.Index(text, "HTTP Status"); i >= 0 && strings.Contains(text[i:], "401") {
				return true
			}
		}
	}
}
