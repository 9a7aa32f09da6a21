package llm

import (
	"context"
)

// Middleware wraps a Generator with additional behavior.
// Middleware functions are composed using Chain() to create a processing pipeline.
type Middleware func(next Generator) Generator

// generatorFunc adapts plain functions to the Generator interface.
type generatorFunc struct {
	generate func(context.Context, Request) (Response, error)
	name     func() string
}

func (f generatorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f.generate(ctx, req)
}

func (f generatorFunc) Name() string {
	return f.name()
}

// WrapGenerator creates a Generator from function implementations.
// This is a helper for middleware implementations that need to wrap behavior.
func WrapGenerator(generate func(context.Context, Request) (Response, error), name func() string) Generator {
	return generatorFunc{
		generate: generate,
		name:     name,
	}
}

// Chain composes middlewares around a base Generator.
// Middlewares are applied in order, with earlier middlewares being outermost.
//
// For example: Chain(gen, mw1, mw2, mw3) creates the call stack:
//
//	mw1 -> mw2 -> mw3 -> gen
func Chain(base Generator, middlewares ...Middleware) Generator {
	gen := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		gen = middlewares[i](gen)
	}
	return gen
}
