// Package media RTP медиа терминация софтфона.
//
// Termination владеет RTP потоками устройства. Движок сигнализации
// открывает поток при согласовании SDP (OpenStream возвращает локальный
// порт для offer/answer), подключает его к удалённому адресу
// (ConnectStream) и закрывает при завершении вызова (CloseStream).
//
// Termination реализует session.AudioTermination: отключение отправки,
// громкость (усиление G.711 кадров, 50 соответствует исходному уровню)
// и отправку тонов RFC 4733. Termination.Video() возвращает
// session.VideoTermination над теми же потоками: кадры видео потока
// с назначенным внешним рендерером передаются ему как есть.
//
// Пример:
//
//	term := media.NewTermination(media.Config{LocalIP: "10.0.0.5", PortMin: 16384, PortMax: 32766})
//	defer term.Close()
//
//	port, err := term.OpenStream(1, false)
//	if err != nil {
//		return err
//	}
//	// ... port уходит в SDP, из ответа берётся удалённый адрес
//	err = term.ConnectStream(1, remote, media.PayloadTypePCMU, 101)
//	err = term.SendDTMF(1, 5)
package media
