/*
Package brain implements a database-backed Markov chain chatbot brain.

A Brain learns word-transition statistics from a corpus or from live
conversation, stores them in SQLite, and produces replies by weighted
random traversal of the learned transitions. Whether it replies at all
is itself probabilistic: the reply-chance gate makes the bot feel less
like a vending machine and more like a participant.

Multiple independent models can live in one database, each with its own
chain order. Models can be exported to and imported from a versioned
JSON format, pruned, and inspected through on-demand statistics.
*/
package brain
