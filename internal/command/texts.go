package command

// Fixed replies. Commands are answered in Portuguese, the language of the
// ledger community the bot serves.
const (
	textUnknownCommand = "❓ Comando não reconhecido."
	textUnexpected     = "❌ Ocorreu um erro inesperado."
	textSlowDown       = "🐢 Calma! Você está enviando comandos rápido demais. Tente de novo em instantes."
	textBusy           = "⌛ O bot está sobrecarregado. Tente de novo em instantes."

	textLoginFirst     = "🔐 Faça login primeiro: `!login <usuario> <senha>`"
	textSessionExpired = "⏳ Sessão expirou. Faça login novamente! (Use `!login usuario senha`)"
	textCardFirst      = "💳 Vincule seu card primeiro: `!card <código>`"
	textCardModeLogin  = "💳 Este bot usa cards. Vincule o seu com `!card <código>`."

	textLoginUsage    = "❌ Use: `!login <usuario> <senha>`"
	textLoginFailed   = "❌ Login falhou."
	textRegisterUsage = "❌ Use: `!register <usuario> <senha>`"
	textRestoreUsage  = "❌ Use: `!restore <código>`"
	textPayUsage      = "❌ Use: `!pay <toId|@usuário> <valor>`"
	textPaybillUsage  = "❌ Use: `!paybill <billId>`"
	textCheckUsage    = "❌ Use: `!check <id>`"
	textBillUsage     = "❌ Use: `!bill create <toId> <valor> [tempo]`"
	textBillHelp      = "❓ Use:\n• `!bill create <toId> <valor> [tempo]`\n• `!bill list [pagina]`"
	textDownloadUsage = "❌ Use: `!%s <url>`"

	textInvalidAmount  = "❌ Valor inválido."
	textInvalidID      = "❌ ID inválido."
	textInvalidParams  = "❌ Parâmetros inválidos."
	textInvalidCard    = "❌ Card inválido."
	textInvalidURL     = "❌ URL inválida. Use um link http(s)."
	textNoLogin        = "❌ Este usuário não fez login ainda!"
	textViewNoLogin    = "❌ Esse usuário ainda não fez login!"
	textNoBackups      = "⚠️ Nenhum código de backup disponível."
	textNoTransactions = "🗒️ Sem transações."
	textDownloadsOff   = "⚠️ Downloads estão desativados."
	textNotLinked      = "ℹ️ Nenhuma conta vinculada a você."
	textLoggedOut      = "👋 Conta desvinculada. Até logo!"
)

const helpText = `📖 *Lista de Comandos Coin Bot*

🔐 *Autenticação*
• ` + "`!login <usuario> <senha>`" + ` — Fazer login
• ` + "`!register <usuario> <senha>`" + ` — Fazer registro (cooldown global de 1 conta cada 24h na API)
• ` + "`!logout`" + ` — Desvincular sua conta deste bot

💰 *Carteira*
• ` + "`!bal`" + ` — Ver saldo atual
• ` + "`!history [página]`" + ` — Ver histórico de transações
• ` + "`!view [@usuário]`" + ` — Ver informações da conta
• ` + "`!check <id>`" + ` — Consultar uma transação

📤 *Transações*
• ` + "`!pay <id|@usuário> <valor>`" + ` — Enviar coins para outro usuário
• ` + "`!claim`" + ` — Resgatar recompensa diária

💳 *Cartão*
• ` + "`!card`" + ` — Mostrar código do card
• ` + "`!card reset`" + ` — Gerar um novo card

🧾 *Bills (contas)*
• ` + "`!bill create <id> <valor> [tempo]`" + ` — Criar cobrança
• ` + "`!bill list [página]`" + ` — Listar cobranças
• ` + "`!paybill <id>`" + ` — Pagar cobrança

📦 *Backup*
• ` + "`!backup`" + ` — Listar seus 12 códigos de backup
• ` + "`!restore <código>`" + ` — Restaurar backup pelo código

🎬 *Mídia*
• ` + "`!download <url>`" + ` — Baixar o áudio em mp3 (pago)
• ` + "`!video <url>`" + ` — Baixar o vídeo em mp4 (pago)

🌍 *Outros*
• ` + "`!rank`" + ` / ` + "`!global`" + ` — Ranking global
• ` + "`!help`" + ` ou ` + "`!ajuda`" + ` — Mostrar esta mensagem

──────────────────────────────
📝 *Tutorial rápido*:
1. Use ` + "`!login usuario senha`" + ` no privado (DM) para se conectar.
2. Depois pode usar os comandos em qualquer grupo ou no privado.
3. Se sua sessão expirar (24h), basta logar novamente.
4. É possível entrar via site: http://coin.foxsrv.net:26450 .`

const introText = `Opa! Sou o bot ATM Coin no chat via API!
Fui criado pelo FoxOficial.

Use *!ajuda* ou *!help* para ver a lista de comandos.

Sistema Coin é uma moeda global digital semelhante ao Bitcoin, só que não envolve dinheiro real;

O intuito do Coin é ser uma moeda digital usada em comunidades, plataformas e jogos para gerar uma comunidade mais ativa e engajada;

É possível ser usado para fazer trocas, envios, transações, compras e vendas com Coins sem usar dinheiro real.

Temos suporte para:

- Telegram e Discord (esse bot);
- Discord: https://discord.com/oauth2/authorize?client_id=1391067775077978214
- Minecraft: https://www.spigotmc.org/resources/coin.127344/
- E futuramente em mais lugares!

Tem como acessar via site também! Fique a vontade:
http://coin.foxsrv.net:26450/`
