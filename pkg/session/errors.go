package session

import "errors"

var (
	// ErrNoStreamUpdated ни один медиа поток не принял изменение
	// (потоков нужного типа нет или медиа слой отказал на всех).
	ErrNoStreamUpdated = errors.New("ни один медиа поток не обновлён")

	ErrNoAudioTermination = errors.New("аудио терминация не настроена")
	ErrNoVideoTermination = errors.New("видео терминация не настроена")
	ErrNoVideoStream      = errors.New("в вызове нет видео потока")

	ErrDeviceNotStarted = errors.New("сессия устройства не запущена")
	ErrDeviceStarted    = errors.New("сессия устройства уже запущена")
)
