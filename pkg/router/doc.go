// Package router runs inbound messages through the conversation machine.
//
// Each conversation has its own lane in the command queue, so messages of
// one conversation are processed one at a time in arrival order while
// different conversations proceed concurrently. The session store is only
// touched from inside a lane task.
package router
