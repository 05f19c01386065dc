// Package session модель сессии устройства и вызовов поверх движка
// сигнализации.
//
// Device владеет движком (Engine) и реестром вызовов (Call), которые
// создаются по требованию при событиях движка или явно через CreateCall.
// Call пересылает функциональные операции в движок по своему CallHandle
// и хранит медиа состояние: карту потоков, mute, громкость, окно и
// внешний рендерер видео. Медиа операции применяются ко всем подходящим
// потокам через AudioTermination и VideoTermination.
//
// Пример:
//
//	dev := session.NewDevice("SEP001122334455", engine, session.DeviceOptions{Audio: audio})
//	dev.SetObserver(obs)
//	if err := dev.Start(ctx); err != nil {
//		return err
//	}
//	call, err := dev.CreateCall(1)
//	if err != nil {
//		return err
//	}
//	_ = call.Originate(session.DirectionSendRecv, "1001")
package session
