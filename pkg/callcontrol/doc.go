// Package callcontrol менеджер управления вызовами софтфона.
//
// Manager ведёт жизненный цикл подключения к одному управляемому
// устройству:
//
//	Idle -> Registering -> Ready | Failed
//	Ready -> Idle (Disconnect)
//	Failed -> Registering (новая попытка Connect/RegisterUser)
//
// Connect при необходимости аутентифицирует пользователя в CCMCIP
// (Authenticate), выбирает устройство, получает его конфигурацию
// (FetchDeviceConfig) и запускает session.Device поверх движка
// сигнализации из EngineFactory. Каждое изменение состояния подключения
// и аутентификации рассылается наблюдателям ConnectionObserver, события
// устройства, линий, кнопок и вызовов ретранслируются наблюдателям
// session.Observer в порядке регистрации.
//
// Сведения об устройствах (PhoneDetails) живут в хранилище менеджера,
// обход хранилища идёт по возрастанию имени устройства, поэтому
// автоматический выбор устройства детерминирован.
package callcontrol
