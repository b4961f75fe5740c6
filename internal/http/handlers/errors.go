package handlers

import "errors"

var errInvalidVoteType = errors.New(`type must be "up" or "down"`)
