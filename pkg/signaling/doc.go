// Package signaling реализует session.Engine поверх sipgo.
//
// Движок регистрирует линии устройства (REGISTER с digest
// авторизацией), ведёт вызовы INVITE/ACK/BYE/CANCEL, удержание и
// возобновление через re-INVITE с направлением SDP, перевод через REFER
// (с Replaces для консультационного перевода), DTMF через INFO при
// отсутствии telephone-event, BLF через подписку на dialog и MWI.
//
// Конфигурация устройства читается из <device>.cnf.xml
// (ParseDeviceConfig) или задаётся явно (UserDeviceConfig). RTP потоками
// движок управляет через MediaPlane, который реализует media.Termination.
//
// Пример:
//
//	term := media.NewTermination(media.Config{})
//	factory := signaling.NewFactory(signaling.FactoryOptions{Media: term})
//	mgr := callcontrol.NewManager(callcontrol.Options{EngineFactory: factory})
package signaling
