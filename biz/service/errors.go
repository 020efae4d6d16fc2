package service

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidTick     = errors.New("invalid tick")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrUserExists      = errors.New("user already exists")
	ErrBadCredentials  = errors.New("bad credentials")
	ErrPositionExists  = errors.New("position already open")
)
