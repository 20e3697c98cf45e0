package main

import (
	"fmt"
	"io"
)

func runCompletion(args []string, out io.Writer, errOut io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "usage: tcom-send completion [bash|zsh]")
		return 1
	}
	switch args[0] {
	case "bash":
		_, _ = io.WriteString(out, bashCompletionScript)
		return 0
	case "zsh":
		_, _ = io.WriteString(out, zshCompletionScript)
		return 0
	default:
		fmt.Fprintln(errOut, "usage: tcom-send completion [bash|zsh]")
		return 1
	}
}

const bashCompletionScript = `# Bash completion for tcom-send
_tcom_send_complete() {
  local cur prev words cword
  _init_completion || return

  if [[ "$prev" == "completion" ]]; then
    COMPREPLY=( $(compgen -W "bash zsh" -- "$cur") )
    return
  fi

  if [[ "$cur" == -* ]]; then
    COMPREPLY=( $(compgen -W "--url --token --connect --hex --topic --qos --retain --verbose --debug --help --version" -- "$cur") )
    return
  fi

  local sessions
  sessions=$(tcom-send __complete-sessions 2>/dev/null)
  if [[ -n "$sessions" ]]; then
    local IFS=$'\n'
    COMPREPLY=( $(compgen -W "$sessions" -- "$cur") )
  fi
}

complete -F _tcom_send_complete tcom-send
`

const zshCompletionScript = `#compdef tcom-send

_tcom_send() {
  local -a options
  options=(
    '--url[tcom server URL]:URL'
    '--token[Auth token]:TOKEN'
    '--connect[Connect the session first if it is idle]'
    '--hex[Treat stdin as hex digits]'
    '--topic[MQTT topic override]:TOPIC'
    '--qos[MQTT QoS override]:QOS'
    '--retain[MQTT retain flag]'
    '--verbose[Verbose output]'
    '--debug[Debug output]'
    '--help[Show help]'
    '--version[Print version]'
  )

  _arguments -C \
    $options \
    '1: :->session'

  case $state in
    session)
      local -a sessions
      sessions=(${(f)"$(tcom-send __complete-sessions 2>/dev/null)"})
      _describe 'session' sessions
      ;;
  esac
}

_tcom_send "$@"
`
