package middleware

import (
	"github.com/danielgtaylor/huma/v2"
)

// Container накапливает цепочку huma-мидлварей для очередного обработчика
type Container struct {
	huma.Middlewares
}

// NewContainer возвращает пустой контейнер
func NewContainer() *Container {
	return &Container{
		Middlewares: make(huma.Middlewares, 0),
	}
}

// Add регистрирует мидлварь; порядок добавления задает порядок выполнения
func (mc *Container) Add(middleware func(ctx huma.Context, next func(huma.Context))) {
	mc.Middlewares = append(mc.Middlewares, middleware)
}

// GetAllAndClear отдает собранную цепочку и начинает следующую с нуля
func (mc *Container) GetAllAndClear() huma.Middlewares {
	result := mc.Middlewares
	mc.Middlewares = nil
	return result
}
