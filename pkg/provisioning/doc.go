// Package provisioning получение сведений об устройствах пользователя.
//
// CCMCIPClient запрашивает у сервера CCMCIP (HTTPS) каталог устройств,
// закреплённых за пользователем, ParseDeviceList разбирает ответ.
// ConfigRetriever загружает конфигурацию устройства (<имя>.cnf.xml) с
// серверов конфигурации по порядку и при недоступности всех серверов
// берёт последнюю сохранённую копию из ConfigCache: файлового кэша
// (FileCache) или Redis (RedisCache).
package provisioning
